// Package latencyz measures per-callsite latency of instrumented code
// without the cost or complexity of a full tracing/export pipeline.
//
// latencyz groups spans — individual executions of an instrumented
// function or block — into SpanGroups by runtime callsite path and a
// caller-supplied set of Props, then records each span's total and
// active duration into that group's pair of HDR histograms. Histograms
// live on the goroutine that created them and are merged across
// goroutines only at snapshot time. Finishing a span still takes a read
// lock on the collector's goroutine registry and the lock of the current
// goroutine's own accumulator.
//
// Core Components:
//   - Tracer: dispatches span lifecycle events (Create/Enter/Exit/Close).
//   - SpanGroup: the stable identity spans with the same callsite path
//     and Props share; this is what latency statistics accumulate against.
//   - LatencyTrace: owns a Tracer and a collector; each finished span's
//     durations are committed by the Tracer into that collector.
//   - Timings: the measurement result, one Timing (total/active histogram
//     pair) per SpanGroup observed during a run.
//
// Basic Usage:
//
//	lt := latencyz.New(latencyz.NewConfig())
//	tracer := lt.Tracer()
//
//	timings, err := lt.MeasureLatencies(func() {
//		_, span := tracer.StartSpan(context.Background(), "f")
//		defer span.Finish()
//		span.Enter()
//		doWork()
//		span.Exit()
//	})
//
// Direct vs. Probed:
//
// MeasureLatencies snapshots once, after the workload returns. For
// long-running or server-style workloads, MeasureLatenciesProbed installs
// the same subscriber but returns immediately with a ProbedTrace: call
// Probe at any point to read a live, non-blocking snapshot, and Join once
// the workload is done to get its final Timings.
//
// Process-wide Installation:
//
// Only one LatencyTrace may be installed per process — MeasureLatencies
// and MeasureLatenciesProbed both return ErrAlreadyInstalled on a second
// call, mirroring a tracing subscriber's own single-assignment semantics.
//
// Thread Safety:
//
// Tracer, LatencyTrace, and ProbedTrace are safe for concurrent use by
// multiple goroutines. ActiveSpan's SetTag/GetTag/Enter/Exit/Finish are
// safe for concurrent use, though a given Span instance is normally only
// ever touched by the goroutine that created it.
package latencyz
