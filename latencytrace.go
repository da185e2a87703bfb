package latencyz

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

// defaultHighMicros and defaultSigfig are the histogram construction
// defaults spec.md §4.6 leaves as configurable but does not mandate a
// specific value for: one minute in microseconds, and hdrhistogram's usual
// 2 significant digits.
const (
	defaultHighMicros int64 = 60_000_000
	defaultSigfig           = 2
)

// installed guards MeasureLatencies/MeasureLatenciesProbed: only one
// subscriber may be installed as the process-wide default for the life of
// the process, mirroring tracing::subscriber::set_global_default's own
// single-assignment behavior (spec.md §7 AlreadyInstalled), the same
// single-assignment shape as Tracer's own idPoolOnce in ensureIDPools.
var installed atomic.Bool

// Config configures a LatencyTrace before it measures anything. NewConfig
// returns one with DefaultSpanGrouper, the package's default histogram
// bounds, LevelTrace and the real clock (spec.md §4.6). The zero value has
// no clock and zero histogram bounds, so it is not usable as is.
type Config struct {
	grouper    SpanGrouper
	highMicros int64
	sigfig     int
	minLevel   Level
	clock      clockz.Clock
}

// NewConfig returns a Config with the package defaults.
func NewConfig() Config {
	return Config{
		grouper:    DefaultSpanGrouper,
		highMicros: defaultHighMicros,
		sigfig:     defaultSigfig,
		minLevel:   LevelTrace,
		clock:      clockz.RealClock,
	}
}

// WithSpanGrouper sets the SpanGrouper used to derive Props from each
// span's creation-time attributes.
func (c Config) WithSpanGrouper(g SpanGrouper) Config {
	c.grouper = g
	return c
}

// WithHistHigh sets the highest trackable value, in microseconds, for
// every histogram this LatencyTrace creates.
func (c Config) WithHistHigh(highMicros int64) Config {
	c.highMicros = highMicros
	return c
}

// WithHistSigfig sets the number of significant decimal digits every
// histogram this LatencyTrace creates preserves.
func (c Config) WithHistSigfig(sigfig int) Config {
	c.sigfig = sigfig
	return c
}

// WithMinLevel sets the minimum span level this LatencyTrace records;
// spans below it are no-ops (spec.md §4.5).
func (c Config) WithMinLevel(level Level) Config {
	c.minLevel = level
	return c
}

// WithClock injects a clock, for deterministic tests. Defaults to
// clockz.RealClock.
func (c Config) WithClock(clock clockz.Clock) Config {
	c.clock = clock
	return c
}

// LatencyTrace is the measurement engine spec.md §4.6 describes: it owns a
// Tracer and a collector, and is itself the spanObserver the Tracer
// dispatches lifecycle events to.
type LatencyTrace struct {
	config    Config
	tracer    *Tracer
	collector *collector
}

// New constructs a LatencyTrace from cfg, wiring its Tracer to its
// collector. The returned value does not yet affect the process default —
// call MeasureLatencies or MeasureLatenciesProbed for that.
func New(cfg Config) *LatencyTrace {
	t := newTracer(cfg.clock, cfg.grouper, cfg.minLevel)
	c := newCollector(cfg.highMicros, cfg.sigfig)
	t.attachCollector(c)

	lt := &LatencyTrace{config: cfg, tracer: t, collector: c}
	t.addObserver(lt)
	return lt
}

// Tracer returns the Tracer this LatencyTrace dispatches through. Callers
// instrument their own code by calling Tracer.StartSpan against the
// context returned by a previous StartSpan call, or against
// context.Background() for a root span.
func (lt *LatencyTrace) Tracer() *Tracer {
	return lt.tracer
}

// onSpanCreated, onSpanEnter, onSpanExit are no-ops for LatencyTrace: it
// only needs the final total/active durations, computed at Finish and
// delivered via Tracer.commit, not the lifecycle events themselves. It
// still implements spanObserver so it composes with other observers
// exactly like any other subscriber would (spec.md §4.5/§9).
func (lt *LatencyTrace) onSpanCreated(*Span)              {}
func (lt *LatencyTrace) onSpanEnter(*Span)                {}
func (lt *LatencyTrace) onSpanExit(*Span)                 {}
func (lt *LatencyTrace) onSpanClosed(*Span, int64, int64) {}

// MeasureLatencies installs this LatencyTrace as the process-wide default
// subscriber, runs f to completion, and returns the latency statistics
// recorded during that run (spec.md §4.6's "direct mode"). f is expected
// to have already joined any goroutines it spawned before returning —
// MeasureLatencies snapshots immediately after f returns, once, and never
// again.
//
// Returns ErrAlreadyInstalled if a subscriber is already installed in this
// process.
func (lt *LatencyTrace) MeasureLatencies(f func()) (Timings, error) {
	if !installed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInstalled
	}

	log.Debug().Msg("latencyz: installed as process default (direct mode)")
	f()

	return fromSnapshot(lt.collector.snapshot()), nil
}

// ProbedTrace is the handle MeasureLatenciesProbed returns: a running
// measurement that can be sampled with Probe before the workload
// finishes, and must be finalized with Join once it has (spec.md §4.6's
// "probed mode").
type ProbedTrace struct {
	lt     *LatencyTrace
	group  *errgroup.Group
	joined atomic.Bool
}

// Probe takes a live, non-blocking snapshot of every SpanGroup recorded so
// far, without waiting for the workload to finish. Safe to call
// concurrently with the workload and with other Probe calls.
func (p *ProbedTrace) Probe() Timings {
	return fromSnapshot(p.lt.collector.snapshot())
}

// Join waits for the workload to finish and returns its final, complete
// Timings. Returns ErrNotProbed if called more than once.
func (p *ProbedTrace) Join() (Timings, error) {
	if !p.joined.CompareAndSwap(false, true) {
		return nil, ErrNotProbed
	}
	if err := p.group.Wait(); err != nil {
		return nil, err
	}
	return fromSnapshot(p.lt.collector.snapshot()), nil
}

// MeasureLatenciesProbed installs this LatencyTrace as the process-wide
// default subscriber, launches f in its own goroutine via an errgroup, and
// returns a ProbedTrace the caller can Probe while f runs and must Join
// once it's done (spec.md §4.6's "probed mode"). errgroup.Group gives this
// a real join point and structured-concurrency error propagation, the role
// the upstream async runtime's own join handle would otherwise play
// (SPEC_FULL.md §10).
//
// Returns ErrAlreadyInstalled if a subscriber is already installed in this
// process.
func (lt *LatencyTrace) MeasureLatenciesProbed(ctx context.Context, f func(context.Context) error) (*ProbedTrace, error) {
	if !installed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInstalled
	}

	log.Debug().Msg("latencyz: installed as process default (probed mode)")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f(gctx) })

	return &ProbedTrace{lt: lt, group: g}, nil
}
