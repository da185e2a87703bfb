package latencyz

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func resetInstalled(t *testing.T) {
	t.Helper()
	installed.Store(false)
	t.Cleanup(func() { installed.Store(false) })
}

// TestMeasureLatenciesEmptyWorkload verifies measuring a workload that
// creates no spans at all returns an empty, non-nil Timings.
func TestMeasureLatenciesEmptyWorkload(t *testing.T) {
	resetInstalled(t)
	lt := New(NewConfig())

	timings, err := lt.MeasureLatencies(func() {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timings.Len() != 0 {
		t.Errorf("expected an empty Timings, got %d groups", timings.Len())
	}
}

// TestMeasureLatenciesSecondInstallFails verifies that after a first
// successful call, a second call to MeasureLatencies in the same process
// returns ErrAlreadyInstalled.
func TestMeasureLatenciesSecondInstallFails(t *testing.T) {
	resetInstalled(t)
	lt1 := New(NewConfig())
	lt2 := New(NewConfig())

	if _, err := lt1.MeasureLatencies(func() {}); err != nil {
		t.Fatalf("unexpected error on first install: %v", err)
	}

	_, err := lt2.MeasureLatencies(func() {})
	if err != ErrAlreadyInstalled {
		t.Fatalf("expected ErrAlreadyInstalled on second install, got %v", err)
	}
}

// TestMeasureLatenciesSingleLoopMedian verifies a span recorded N times
// with a fixed simulated duration has that duration at its median.
func TestMeasureLatenciesSingleLoopMedian(t *testing.T) {
	resetInstalled(t)
	clock := clockz.NewFakeClock()
	lt := New(NewConfig().WithClock(clock))
	tracer := lt.Tracer()

	timings, err := lt.MeasureLatencies(func() {
		for i := 0; i < 20; i++ {
			_, span := tracer.StartSpan(context.Background(), "step")
			clock.Advance(1200 * time.Microsecond)
			span.Finish()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if timings.Len() != 1 {
		t.Fatalf("expected 1 span group, got %d", timings.Len())
	}
	for _, tm := range timings {
		stats := tm.TotalStats()
		if stats.Count != 20 {
			t.Errorf("expected 20 recordings, got %d", stats.Count)
		}
		if stats.Median < 1100 || stats.Median > 1300 {
			t.Errorf("expected median near 1200us, got %d", stats.Median)
		}
	}
}

// TestMeasureLatenciesNestedSyncTree verifies a nested call tree
// f -> loop_body -> {empty, g} produces one SpanGroup per distinct
// callsite path, with f as a root and loop_body, empty and g each linked
// to a parent group.
func TestMeasureLatenciesNestedSyncTree(t *testing.T) {
	resetInstalled(t)
	clock := clockz.NewFakeClock()
	lt := New(NewConfig().WithClock(clock))
	tracer := lt.Tracer()

	var g func(ctx context.Context)
	g = func(ctx context.Context) {
		_, span := tracer.StartSpan(ctx, "g")
		clock.Advance(800 * time.Microsecond)
		span.Finish()
	}

	var f func()
	f = func() {
		ctx, fSpan := tracer.StartSpan(context.Background(), "f")
		defer fSpan.Finish()

		for i := 0; i < 3; i++ {
			loopCtx, loopSpan := tracer.StartSpan(fSpan.Context(ctx), "loop_body")

			_, emptySpan := tracer.StartSpan(loopSpan.Context(loopCtx), "empty")
			emptySpan.Finish()

			g(loopSpan.Context(loopCtx))

			clock.Advance(1200 * time.Microsecond)
			loopSpan.Finish()
		}
	}

	timings, err := lt.MeasureLatencies(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if timings.Len() != 4 {
		t.Fatalf("expected 4 distinct span groups (f, loop_body, empty, g), got %d", timings.Len())
	}

	byName := timings.Aggregate(func(g *SpanGroup) string { return g.Name() })
	if byName["loop_body"].Total.TotalCount() != 3 {
		t.Errorf("expected loop_body to have run 3 times, got %d", byName["loop_body"].Total.TotalCount())
	}
	if byName["g"].Total.TotalCount() != 3 {
		t.Errorf("expected g to have run 3 times, got %d", byName["g"].Total.TotalCount())
	}

	parents := timings.ParentOf()
	for g := range timings {
		switch g.Name() {
		case "f":
			if parents[g] != nil {
				t.Error("expected f to be a root span group")
			}
		case "loop_body", "empty", "g":
			if parents[g] == nil {
				t.Errorf("expected %s to have a parent span group", g.Name())
			}
		}
	}
}

// TestMeasureLatenciesAsyncActiveLessThanTotal verifies that a span
// suspended between Exit and re-Enter accrues total time the active
// histogram does not, so active's upper percentiles sit well below
// total's once the workload sleeps for a while mid-span.
func TestMeasureLatenciesAsyncActiveLessThanTotal(t *testing.T) {
	resetInstalled(t)
	clock := clockz.NewFakeClock()
	lt := New(NewConfig().WithClock(clock))
	tracer := lt.Tracer()

	timings, err := lt.MeasureLatencies(func() {
		_, span := tracer.StartSpan(context.Background(), "async_step")
		span.Enter()
		clock.Advance(1 * time.Millisecond)
		span.Exit()

		clock.Advance(10 * time.Millisecond) // suspended.

		span.Enter()
		clock.Advance(1 * time.Millisecond)
		span.Exit()

		span.Finish()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, tm := range timings {
		total := tm.TotalStats().P99
		active := tm.ActiveStats().P99
		if active >= total {
			t.Errorf("expected active p99 (%d) to be well below total p99 (%d) across a suspend", active, total)
		}
	}
}

// TestMeasureLatenciesProbedLiveCounts verifies Probe returns
// monotonically non-decreasing counts while the workload runs, and Join's
// final count is at least the last probed count.
func TestMeasureLatenciesProbedLiveCounts(t *testing.T) {
	resetInstalled(t)
	lt := New(NewConfig())
	tracer := lt.Tracer()

	started := make(chan struct{})
	release := make(chan struct{})

	probed, err := lt.MeasureLatenciesProbed(context.Background(), func(ctx context.Context) error {
		for i := 0; i < 5; i++ {
			_, span := tracer.StartSpan(ctx, "work")
			span.Finish()
		}
		close(started)
		<-release
		for i := 0; i < 5; i++ {
			_, span := tracer.StartSpan(ctx, "work")
			span.Finish()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The two loops start their spans from different lines, so they form
	// two SpanGroups; counts are summed across groups.
	<-started
	mid := probed.Probe()
	var midCount int64
	for _, tm := range mid {
		midCount += tm.Total.TotalCount()
	}
	if midCount != 5 {
		t.Errorf("expected a mid-run probe count of 5, got %d", midCount)
	}

	close(release)
	final, err := probed.Join()
	if err != nil {
		t.Fatalf("unexpected error joining: %v", err)
	}
	var finalCount int64
	for _, tm := range final {
		finalCount += tm.Total.TotalCount()
	}
	if finalCount != 10 {
		t.Errorf("expected a final count of 10, got %d", finalCount)
	}
	if finalCount < midCount {
		t.Error("expected the final count to be at least the mid-run probe count")
	}

	if _, err := probed.Join(); err != ErrNotProbed {
		t.Errorf("expected a second Join to return ErrNotProbed, got %v", err)
	}
}

// TestMeasureLatenciesDistinctPropsGrouper verifies a GroupByGivenFields
// grouper splits otherwise-identical callsites into distinct SpanGroups
// by attribute value.
func TestMeasureLatenciesDistinctPropsGrouper(t *testing.T) {
	resetInstalled(t)
	lt := New(NewConfig().WithSpanGrouper(GroupByGivenFields("shard")))
	tracer := lt.Tracer()

	timings, err := lt.MeasureLatencies(func() {
		for _, shard := range []string{"a", "b", "a"} {
			_, span := tracer.StartSpan(context.Background(), "handle",
				WithAttributes(Attributes{"shard": shard}))
			span.Finish()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if timings.Len() != 2 {
		t.Fatalf("expected 2 span groups (one per distinct shard), got %d", timings.Len())
	}
}

// TestMeasureLatenciesManyGoroutines verifies a workload that spreads its
// spans across more goroutines than typical CPU counts still produces one
// correctly-merged SpanGroup.
func TestMeasureLatenciesManyGoroutines(t *testing.T) {
	resetInstalled(t)
	lt := New(NewConfig())
	tracer := lt.Tracer()

	const workers = 120
	probed, err := lt.MeasureLatenciesProbed(context.Background(), func(ctx context.Context) error {
		done := make(chan struct{}, workers)
		for i := 0; i < workers; i++ {
			go func() {
				_, span := tracer.StartSpan(ctx, "worker_task")
				span.Finish()
				done <- struct{}{}
			}()
		}
		for i := 0; i < workers; i++ {
			<-done
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, err := probed.Join()
	if err != nil {
		t.Fatalf("unexpected error joining: %v", err)
	}
	if final.Len() != 1 {
		t.Fatalf("expected 1 span group across all workers, got %d", final.Len())
	}
	for _, tm := range final {
		if tm.Total.TotalCount() != workers {
			t.Errorf("expected %d recordings merged across goroutines, got %d", workers, tm.Total.TotalCount())
		}
	}
}
