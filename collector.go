package latencyz

import (
	"sync"

	"github.com/petermattis/goid"
	"github.com/rs/zerolog/log"
)

// collector is the cross-thread registry spec.md §4.4 describes: one
// accumulator per goroutine that has recorded at least one span, looked up
// by the goroutine's stable ID (github.com/petermattis/goid — Go has no
// native thread-local storage, so this is the stand-in the rest of the
// pack uses for "current thread identity", grounded on
// other_examples/cockroachdb-cockroach__tracer.go).
//
// Per SPEC_FULL.md §7, entries are never removed: Go provides no
// goroutine-exit hook to flush them to a "terminated thread" staging area,
// so an accumulator simply stays registered, empty of further writes,
// once its owning goroutine returns.
type collector struct {
	mu          sync.RWMutex
	byGoroutine map[int64]*accumulator
	highMicros  int64
	sigfig      int
}

func newCollector(highMicros int64, sigfig int) *collector {
	return &collector{
		byGoroutine: make(map[int64]*accumulator),
		highMicros:  highMicros,
		sigfig:      sigfig,
	}
}

// commit routes one completed span's durations to the current goroutine's
// accumulator, creating it on first use.
func (c *collector) commit(group *SpanGroup, totalMicros, activeMicros int64) {
	c.accumulatorForCurrentGoroutine().commit(group, totalMicros, activeMicros)
}

func (c *collector) accumulatorForCurrentGoroutine() *accumulator {
	gid := goid.Get()

	c.mu.RLock()
	acc, ok := c.byGoroutine[gid]
	c.mu.RUnlock()
	if ok {
		return acc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if acc, ok := c.byGoroutine[gid]; ok {
		return acc
	}
	acc = newAccumulator(c.highMicros, c.sigfig)
	c.byGoroutine[gid] = acc
	log.Debug().Int64("goroutine_id", gid).Msg("latencyz: registered new goroutine accumulator")
	return acc
}

// snapshot visits every registered accumulator and clone-merges its
// histograms into a single map, the raw material for a Timings result.
// Used both by MeasureLatencies (direct mode, called once after the
// workload returns) and by ProbedTrace.Probe/Join (probed mode, Probe may
// run concurrently with an active workload) — spec.md §4.4/§5.
func (c *collector) snapshot() map[*SpanGroup]*groupHistograms {
	c.mu.RLock()
	accs := make([]*accumulator, 0, len(c.byGoroutine))
	for _, acc := range c.byGoroutine {
		accs = append(accs, acc)
	}
	c.mu.RUnlock()

	merged := make(map[*SpanGroup]*groupHistograms)
	for _, acc := range accs {
		acc.cloneInto(merged)
	}
	return merged
}

// goroutineCount reports how many distinct goroutines have ever recorded a
// span through this collector. Exposed for tests and diagnostics; per
// spec.md §4.3 "the per-thread map is expected to be small".
func (c *collector) goroutineCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byGoroutine)
}
