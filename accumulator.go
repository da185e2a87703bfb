package latencyz

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// groupHistograms is one SpanGroup's pair of histograms: total time
// (close - created, includes suspend) and active time (sum of exit-enter
// intervals, excludes suspend) — spec.md §3/§4.3.
type groupHistograms struct {
	total  *hdrhistogram.Histogram
	active *hdrhistogram.Histogram
}

func newGroupHistograms(highMicros int64, sigfig int) *groupHistograms {
	return &groupHistograms{
		total:  newHistogram(highMicros, sigfig),
		active: newHistogram(highMicros, sigfig),
	}
}

// accumulator is the per-goroutine histogram owner spec.md §4.3 describes.
// It is created once per goroutine that records at least one span and is
// mutated ONLY by that goroutine via commit — the mutex exists so the
// collector can clone-merge it from another goroutine during
// collector.snapshot; commit holds it for one pair of records, and the
// collector holds it only for the duration of that clone (spec.md
// §4.3/§4.4/§5, SPEC_FULL.md §7). SpanGroups are interned per Tracer
// (spangroup.go's groupRegistry), so within one LatencyTrace the same
// *SpanGroup pointer identifies a group everywhere; keying by pointer here
// avoids a second lookup back from a string key.
type accumulator struct {
	mu         sync.Mutex
	highMicros int64
	sigfig     int
	byGroup    map[*SpanGroup]*groupHistograms
}

func newAccumulator(highMicros int64, sigfig int) *accumulator {
	return &accumulator{
		highMicros: highMicros,
		sigfig:     sigfig,
		byGroup:    make(map[*SpanGroup]*groupHistograms),
	}
}

// commit records one completed span's durations. Called only by the
// owning goroutine.
func (a *accumulator) commit(group *SpanGroup, totalMicros, activeMicros int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	gh, ok := a.byGroup[group]
	if !ok {
		gh = newGroupHistograms(a.highMicros, a.sigfig)
		a.byGroup[group] = gh
	}
	recordSaturating(gh.total, totalMicros)
	recordSaturating(gh.active, activeMicros)
}

// cloneInto merges a deep copy of every histogram this accumulator owns
// into dst, keyed by SpanGroup. Safe to call from any goroutine; takes the
// accumulator's mutex for the duration of the copy only, per spec.md §4.4's
// "brief, per-accumulator" synchronization.
func (a *accumulator) cloneInto(dst map[*SpanGroup]*groupHistograms) {
	a.mu.Lock()
	snapshot := make(map[*SpanGroup]*groupHistograms, len(a.byGroup))
	for g, gh := range a.byGroup {
		snapshot[g] = &groupHistograms{
			total:  hdrhistogram.Import(gh.total.Export()),
			active: hdrhistogram.Import(gh.active.Export()),
		}
	}
	a.mu.Unlock()

	for g, gh := range snapshot {
		merged, ok := dst[g]
		if !ok {
			merged = newGroupHistograms(a.highMicros, a.sigfig)
			dst[g] = merged
		}
		mergeInto(merged.total, gh.total)
		mergeInto(merged.active, gh.active)
	}
}
