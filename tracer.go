package latencyz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
)

// Level mirrors tracing::Level: a coarse priority a callsite is tagged
// with, used to decide whether a span is even worth turning into a
// SpanGroup and a timing record (spec.md §4.5 "Level threshold").
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// spanObserver is notified at each point in a span's lifecycle. Tracer
// invokes every registered observer in order, the same composability the
// teacher's SpanHandler/OnSpanComplete offers. LatencyTrace registers
// itself as one observer among any number of others; the histogram update
// itself does not go through an observer but through Tracer.commit.
type spanObserver interface {
	onSpanCreated(s *Span)
	onSpanEnter(s *Span)
	onSpanExit(s *Span)
	onSpanClosed(s *Span, totalMicros, activeMicros int64)
}

type observerEntry struct {
	observer spanObserver
	id       uint64
}

// SpanOption configures an individual StartSpan call.
type SpanOption func(*spanOptions)

type spanOptions struct {
	attrs Attributes
	level Level
}

// WithAttributes attaches creation-time attributes to a span, which the
// Tracer's configured SpanGrouper consults to derive its Props.
func WithAttributes(attrs Attributes) SpanOption {
	return func(o *spanOptions) { o.attrs = attrs }
}

// WithLevel sets a span's priority level. Spans below the Tracer's
// configured minimum level are recorded as no-ops: no SpanGroup is
// interned and no timing record is created. Defaults to LevelTrace.
func WithLevel(level Level) SpanOption {
	return func(o *spanOptions) { o.level = level }
}

// Tracer manages span lifecycle, SpanGroup identity, and dispatch to
// registered observers. Safe for concurrent use by multiple goroutines.
type Tracer struct {
	observers     []observerEntry
	observersLock sync.RWMutex
	panicHook     func(observerID uint64, r interface{})

	callsites    *callsiteRegistry
	groups       *groupRegistry
	grouper      SpanGrouper
	minLevel     Level
	clock        clockz.Clock
	collectorRef *collector

	traceIDPool *IDPool
	spanIDPool  *IDPool
	idPoolOnce  sync.Once
	nextID      atomic.Uint64
}

// newTracer creates a Tracer configured the way a LatencyTrace installs
// one: a real or injected clock, a span grouper, and a minimum level.
func newTracer(clock clockz.Clock, grouper SpanGrouper, minLevel Level) *Tracer {
	if grouper == nil {
		grouper = DefaultSpanGrouper
	}
	return &Tracer{
		callsites: newCallsiteRegistry(),
		groups:    newGroupRegistry(),
		grouper:   grouper,
		minLevel:  minLevel,
		clock:     clock,
	}
}

// attachCollector wires the latency engine's accumulator registry into
// the Tracer so Finish can commit completed spans to it. Unexported:
// only latencytrace.go calls this, once, at construction.
func (t *Tracer) attachCollector(c *collector) {
	t.collectorRef = c
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, func() string {
			bytes := make([]byte, 16)
			if _, err := rand.Read(bytes); err != nil {
				return hex.EncodeToString([]byte(t.clock.Now().Format(time.RFC3339Nano)))
			}
			return hex.EncodeToString(bytes)
		})

		t.spanIDPool = NewIDPool(poolSize, func() string {
			bytes := make([]byte, 8)
			if _, err := rand.Read(bytes); err != nil {
				return hex.EncodeToString([]byte(t.clock.Now().Format("15:04:05.000000")))
			}
			return hex.EncodeToString(bytes)
		})
	})
}

// addObserver registers an observer and returns an ID that can later be
// passed to removeObserver. Unexported: only latencytrace.go installs
// observers on the Tracer it owns.
func (t *Tracer) addObserver(o spanObserver) uint64 {
	id := t.nextID.Add(1)

	t.observersLock.Lock()
	defer t.observersLock.Unlock()
	t.observers = append(t.observers, observerEntry{observer: o, id: id})
	return id
}

func (t *Tracer) removeObserver(id uint64) {
	t.observersLock.Lock()
	defer t.observersLock.Unlock()
	for i, e := range t.observers {
		if e.id == id {
			copy(t.observers[i:], t.observers[i+1:])
			t.observers = t.observers[:len(t.observers)-1]
			return
		}
	}
}

// dispatch invokes fn for every registered observer, catching panics per
// spec.md §7 CallbackInternalPanic so one misbehaving observer cannot take
// down the goroutine running the traced workload.
func (t *Tracer) dispatch(fn func(spanObserver)) {
	t.observersLock.RLock()
	if len(t.observers) == 0 {
		t.observersLock.RUnlock()
		return
	}
	entries := make([]observerEntry, len(t.observers))
	copy(entries, t.observers)
	t.observersLock.RUnlock()

	for _, e := range entries {
		t.safeCall(e, fn)
	}
}

func (t *Tracer) safeCall(e observerEntry, fn func(spanObserver)) {
	defer func() {
		if r := recover(); r != nil {
			if t.panicHook != nil {
				t.panicHook(e.id, r)
			} else {
				log.Error().Interface("panic", r).Uint64("observer_id", e.id).
					Msg("latencyz: observer panicked, span contribution dropped")
			}
		}
	}()
	fn(e.observer)
}

// SetPanicHook sets a function called when an observer callback panics,
// instead of the default error log.
func (t *Tracer) SetPanicHook(hook func(observerID uint64, r interface{})) {
	t.panicHook = hook
}

// StartSpan creates a new span, resolves its SpanGroup, and returns it
// wrapped in an ActiveSpan along with a context a child StartSpan call can
// use to find its parent. If the context contains an existing span, the
// new span is its child both for TraceID propagation and for SpanGroup
// CallsitePath construction (spec.md §3/§4.1).
//
// If the span's level is below the Tracer's configured minimum, no
// SpanGroup or timing record is created, observers are not told of its
// creation, and Finish commits nothing to the collector (spec.md §4.5).
// Enter, Exit and Finish on it still notify the registered observers.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	o := spanOptions{level: LevelTrace}
	for _, opt := range opts {
		opt(&o)
	}

	span := &Span{
		TraceID:   t.generateTraceID(ctx),
		SpanID:    t.generateSpanID(),
		Name:      name,
		StartTime: t.clock.Now(),
	}

	parent := GetSpan(ctx)
	if parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	if o.level >= t.minLevel {
		callsiteID, callsite := t.callsites.resolve(name, 1)
		if callsite.Name == "" {
			callsite.Name = name
		}

		var parentGroup *SpanGroup
		var path CallsitePath
		switch {
		case parent != nil && parent.group != nil:
			parentGroup = parent.group
			path = append(append(CallsitePath{}, parentGroup.Path...), callsiteID)
		case parent != nil:
			// Parent span exists but carries no timing record — e.g. it was
			// recorded below the minimum level. Treated as a root rather
			// than an error (spec.md §7 MissingParentRecord).
			log.Debug().Str("name", name).Msg("latencyz: parent span has no record, treating as root")
			path = CallsitePath{callsiteID}
		default:
			path = CallsitePath{callsiteID}
		}

		props := t.grouper(o.attrs)
		group := t.groups.resolve(callsite, path, props, parentGroup)
		span.group = group
		span.timing = onCreated(t.clock, group)
	}

	activeSpan := &ActiveSpan{span: span, tracer: t}

	bundle := &contextBundle{tracer: t, span: span}
	newCtx := context.WithValue(ctx, bundleKey, bundle)

	if span.group != nil {
		t.dispatch(func(obs spanObserver) { obs.onSpanCreated(span) })
	}

	return newCtx, activeSpan
}

// commit routes a finished span's timing into the current goroutine's
// accumulator. A span recorded as a no-op (group == nil) has nothing to
// commit.
func (t *Tracer) commit(group *SpanGroup, totalMicros, activeMicros int64) {
	if group == nil || t.collectorRef == nil {
		return
	}
	t.collectorRef.commit(group, totalMicros, activeMicros)
}

// generateTraceID creates a new trace ID or returns the existing one from
// context.
func (t *Tracer) generateTraceID(ctx context.Context) string {
	if parent := GetSpan(ctx); parent != nil {
		return parent.TraceID
	}
	t.ensureIDPools()
	return t.traceIDPool.Get()
}

// generateSpanID creates a new span ID.
func (t *Tracer) generateSpanID() string {
	t.ensureIDPools()
	return t.spanIDPool.Get()
}
