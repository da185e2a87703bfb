package latencyz

import (
	"time"

	"github.com/zoobzio/clockz"
)

// spanTiming is the per-span timing record spec.md §3/§4.2 describes. It is
// stored directly on the owning Span (Go has no generic per-span extension
// slot the way the upstream tracing infrastructure spec.md treats as
// external would provide one — see SPEC_FULL.md §9).
type spanTiming struct {
	group       *SpanGroup
	createdAt   time.Time
	enteredAt   time.Time
	entered     bool
	activeAccum time.Duration
}

// onCreated initializes a fresh spanTiming at span creation (spec.md §4.2
// "on_created").
func onCreated(clock clockz.Clock, group *SpanGroup) spanTiming {
	return spanTiming{
		group:     group,
		createdAt: clock.Now(),
	}
}

// onEnter records the start of an active interval. Re-entry on a span
// already entered on the same goroutine is idempotent: the existing
// enteredAt is preserved (spec.md §4.2, Open Question (i) frozen as
// "ignore").
func (t *spanTiming) onEnter(clock clockz.Clock) {
	if t.entered {
		return
	}
	t.enteredAt = clock.Now()
	t.entered = true
}

// onExit closes the current active interval, accumulating its duration.
// An exit without a matching enter is silently ignored, tolerating
// out-of-order events from the upstream library (spec.md §4.2).
func (t *spanTiming) onExit(clock clockz.Clock) {
	if !t.entered {
		return
	}
	t.activeAccum += clock.Now().Sub(t.enteredAt)
	t.entered = false
}

// onClose computes the span's total and active durations in microseconds,
// ready to be committed to the owning goroutine's accumulator. Values are
// never negative: a monotonic clock should make that impossible, but a
// pathological clock (e.g. in tests) is clamped to zero rather than
// wrapping into a huge unsigned value.
func (t *spanTiming) onClose(clock clockz.Clock) (totalMicros, activeMicros int64) {
	total := clock.Now().Sub(t.createdAt)
	return durationMicros(total), durationMicros(t.activeAccum)
}

func durationMicros(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Microseconds()
}
