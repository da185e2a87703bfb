package latencyz

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const bundleKey bundleKeyType = "latencyz"

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *Span
}

// Span represents a single span instance: one execution of a callsite.
// Many Span instances belonging to the same callsite and runtime Props
// share a single SpanGroup, which is where the latency statistics this
// package exists to compute actually accumulate (spec.md §3).
//
// Spans are NOT thread-safe — do not modify the same Span from multiple
// goroutines simultaneously. Use ActiveSpan, which guards the mutable
// parts, for that.
type Span struct {
	Tags      map[string]string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	TraceID   string
	SpanID    string
	ParentID  string
	Name      string

	group  *SpanGroup
	timing spanTiming
}

// Group returns the SpanGroup this span instance belongs to.
func (s *Span) Group() *SpanGroup {
	return s.group
}

// ActiveSpan wraps a Span with thread-safe tag operations and lifecycle
// management: Enter/Exit for active-time tracking, Finish for total-time
// and commit to the owning goroutine's accumulator.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	mu     sync.Mutex
}

// SetTag adds a key-value pair to the span. No-op once the span has
// finished. This is ambient span metadata, independent of the Props a
// SpanGrouper extracts at creation time for SpanGroup identity.
func (a *ActiveSpan) SetTag(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}
	if a.span.Tags == nil {
		a.span.Tags = make(map[string]string)
	}
	a.span.Tags[key] = value
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Tags == nil {
		return "", false
	}
	v, ok := a.span.Tags[key]
	return v, ok
}

// Enter marks the start of an active interval: the span is running on the
// current goroutine rather than suspended (spec.md §4.2/§4.5). Safe to
// call more than once before a matching Exit; re-entry is idempotent.
func (a *ActiveSpan) Enter() {
	a.mu.Lock()
	a.span.timing.onEnter(a.tracer.clock)
	a.mu.Unlock()

	a.tracer.dispatch(func(o spanObserver) { o.onSpanEnter(a.span) })
}

// Exit closes the current active interval, accumulating its duration into
// the span's active time. An Exit with no matching Enter is silently
// ignored.
func (a *ActiveSpan) Exit() {
	a.mu.Lock()
	a.span.timing.onExit(a.tracer.clock)
	a.mu.Unlock()

	a.tracer.dispatch(func(o spanObserver) { o.onSpanExit(a.span) })
}

// Finish completes the span: computes its total and active durations,
// commits them to the current goroutine's accumulator, and notifies any
// registered observers. Safe to call multiple times — subsequent calls
// are no-ops.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}

	clock := a.tracer.clock
	a.span.EndTime = clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	totalMicros, activeMicros := a.span.timing.onClose(clock)
	a.mu.Unlock()

	a.tracer.commit(a.span.group, totalMicros, activeMicros)
	a.tracer.dispatch(func(o spanObserver) { o.onSpanClosed(a.span, totalMicros, activeMicros) })
}

// TraceID returns the trace ID of this span, for log correlation.
func (a *ActiveSpan) TraceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the span ID of this span, for log correlation.
func (a *ActiveSpan) SpanID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// Group returns the SpanGroup this span instance belongs to.
func (a *ActiveSpan) Group() *SpanGroup {
	return a.span.group
}

// Context creates a new context with this span embedded, so that a child
// StartSpan call made against it resolves this span as its parent.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	bundle := &contextBundle{tracer: a.tracer, span: a.span}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context, or nil if none is
// present.
func GetSpan(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}
	return nil
}
