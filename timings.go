package latencyz

import "github.com/HdrHistogram/hdrhistogram-go"

// Timing pairs a SpanGroup's total-time and active-time histograms
// (spec.md §3/§4.7). Total includes time the span spent suspended between
// an Exit and the next Enter; Active excludes it.
type Timing struct {
	Total  *hdrhistogram.Histogram
	Active *hdrhistogram.Histogram
}

// TotalStats summarizes the total-time histogram with the fixed
// percentile set histogram_summary.rs computes, plus any extra quantiles
// requested.
func (t Timing) TotalStats(extraPercentiles ...float64) SummaryStats {
	return newSummaryStats(t.Total, extraPercentiles...)
}

// ActiveStats summarizes the active-time histogram.
func (t Timing) ActiveStats(extraPercentiles ...float64) SummaryStats {
	return newSummaryStats(t.Active, extraPercentiles...)
}

// Timings is the result of a measurement: every SpanGroup observed during
// the run, mapped to its total/active histogram pair (spec.md §4.7).
type Timings map[*SpanGroup]Timing

// fromSnapshot builds a Timings from a collector's merged accumulator
// snapshot.
func fromSnapshot(snap map[*SpanGroup]*groupHistograms) Timings {
	t := make(Timings, len(snap))
	for g, gh := range snap {
		t[g] = Timing{Total: gh.total, Active: gh.active}
	}
	return t
}

// Len returns the number of distinct SpanGroups recorded.
func (t Timings) Len() int {
	return len(t)
}

// Keys returns every SpanGroup recorded, in no particular order.
func (t Timings) Keys() []*SpanGroup {
	keys := make([]*SpanGroup, 0, len(t))
	for g := range t {
		keys = append(keys, g)
	}
	return keys
}

// ParentOf maps every SpanGroup in t to its parent SpanGroup, or nil for a
// root group — span_group_to_parent in the original core_internals.rs
// (spec.md §4.7).
func (t Timings) ParentOf() map[*SpanGroup]*SpanGroup {
	parents := make(map[*SpanGroup]*SpanGroup, len(t))
	for g := range t {
		parents[g] = g.Parent
	}
	return parents
}

// Aggregator computes an arbitrary grouping key from a SpanGroup — the
// caller decides what "the same group" means for aggregation purposes,
// e.g. by name alone, ignoring Props (spec.md §4.7).
type Aggregator func(*SpanGroup) string

// Aggregate merges every SpanGroup's histograms that share an aggregator
// key into one Timing per key (spec.md §4.7's Aggregate(f)).
func (t Timings) Aggregate(f Aggregator) map[string]Timing {
	out := make(map[string]Timing)
	highs := make(map[string]int64)
	for g, tm := range t {
		key := f(g)
		merged, ok := out[key]
		if !ok {
			high := tm.Total.HighestTrackableValue()
			sigfig := int(tm.Total.SignificantFigures())
			merged = Timing{
				Total:  newHistogram(high, sigfig),
				Active: newHistogram(high, sigfig),
			}
			highs[key] = high
			out[key] = merged
		}
		mergeInto(merged.Total, tm.Total)
		mergeInto(merged.Active, tm.Active)
	}
	return out
}

// AggregatorIsConsistent reports whether f assigns the same key to every
// SpanGroup sharing a callsite (compared by CodeLine) — i.e. whether
// aggregating by f never splits one span definition across several keys.
// It does not check whether f gives distinct callsites distinct keys.
// Mirrors
// aggregator_is_consistent in the original test support code.
func (t Timings) AggregatorIsConsistent(f Aggregator) bool {
	byCodeLine := make(map[string]string)
	for g := range t {
		key := f(g)
		if existing, ok := byCodeLine[g.CodeLine()]; ok {
			if existing != key {
				return false
			}
			continue
		}
		byCodeLine[g.CodeLine()] = key
	}
	return true
}

// MapValues applies f to every Timing in t, returning the results keyed
// the same way. A convenience for summary_stats(t.Total)/summary_stats(t)
// style reporting (spec.md §4.7's map_values).
func MapValues[T any](t Timings, f func(Timing) T) map[*SpanGroup]T {
	out := make(map[*SpanGroup]T, len(t))
	for g, tm := range t {
		out[g] = f(tm)
	}
	return out
}
