package latencyz

import (
	"github.com/HdrHistogram/hdrhistogram-go"
)

// minTrackableMicros is the histogram floor mandated by spec.md §3: 1
// microsecond.
const minTrackableMicros = 1

// newHistogram constructs an auto-resizing-free, fixed-bounds histogram in
// microseconds, per spec.md §3's "minimum = 1 µs, maximum configurable
// ... significant digits 2 (configurable)".
func newHistogram(highMicros int64, sigfig int) *hdrhistogram.Histogram {
	return hdrhistogram.New(minTrackableMicros, highMicros, sigfig)
}

// recordSaturating records v, clamping to the histogram's highest
// trackable value instead of returning an error when v is out of range.
// Implements spec.md §7's HistogramOutOfRange: "handled locally by
// saturation; no error surfaced."
func recordSaturating(h *hdrhistogram.Histogram, v int64) {
	if v < h.LowestTrackableValue() {
		v = h.LowestTrackableValue()
	}
	if err := h.RecordValue(v); err != nil {
		_ = h.RecordValue(h.HighestTrackableValue())
	}
}

// mergeInto adds src's recorded values into dst, the associative merge
// operation spec.md §4.4/§6 requires of the histogram dependency.
func mergeInto(dst, src *hdrhistogram.Histogram) {
	dst.Merge(src)
}

// SummaryStats holds the fixed set of summary statistics
// histogram_summary.rs/summary_stats.rs compute for a single histogram,
// plus configurable percentiles as an explicit map so callers that asked
// for non-default quantiles (spec.md §4.7) can read them too.
type SummaryStats struct {
	Count       int64
	Mean        float64
	StdDev      float64
	Min         int64
	Max         int64
	Median      int64
	P1          int64
	P5          int64
	P10         int64
	P25         int64
	P75         int64
	P90         int64
	P95         int64
	P99         int64
	Percentiles map[float64]int64
}

// defaultPercentiles is spec.md §4.7's "default 50, 90, 95, 99".
var defaultPercentiles = []float64{50, 90, 95, 99}

// newSummaryStats computes a SummaryStats from hist. extraPercentiles are
// additional quantiles (0-100 scale) to include in Percentiles beyond the
// fixed field set and the defaults.
func newSummaryStats(hist *hdrhistogram.Histogram, extraPercentiles ...float64) SummaryStats {
	s := SummaryStats{
		Count:  hist.TotalCount(),
		Mean:   hist.Mean(),
		StdDev: hist.StdDev(),
		Min:    hist.Min(),
		Max:    hist.Max(),
		Median: hist.ValueAtQuantile(50),
		P1:     hist.ValueAtQuantile(1),
		P5:     hist.ValueAtQuantile(5),
		P10:    hist.ValueAtQuantile(10),
		P25:    hist.ValueAtQuantile(25),
		P75:    hist.ValueAtQuantile(75),
		P90:    hist.ValueAtQuantile(90),
		P95:    hist.ValueAtQuantile(95),
		P99:    hist.ValueAtQuantile(99),
	}

	want := append(append([]float64{}, defaultPercentiles...), extraPercentiles...)
	s.Percentiles = make(map[float64]int64, len(want))
	for _, q := range want {
		s.Percentiles[q] = hist.ValueAtQuantile(q)
	}
	return s
}
