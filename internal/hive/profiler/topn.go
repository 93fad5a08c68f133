package profiler

// TopSpec selects how many analyses the chart/TSV renderer keeps distinct
// before folding the rest into an "OTHER" bucket (spec.md §4.4, §6's --top
// flag). Exactly one of N or Fraction should be set; N takes priority.
type TopSpec struct {
	// N, if > 0, keeps exactly this many analyses.
	N int
	// Fraction, if N <= 0 and 0 < Fraction < 1, keeps the smallest prefix of
	// the sorted-by-total list whose cumulative share first reaches
	// 0.995 * Fraction.
	Fraction float64
}

// Selection is the outcome of applying a TopSpec to a ranked analysis list.
type Selection struct {
	// Kept is the ordered (by decreasing total) subset of analysis IDs to
	// render individually.
	Kept []int64
	// OtherTotal is the summed total of every analysis folded into OTHER.
	// HasOther is false when nothing was folded (every analysis was kept).
	OtherTotal float64
	HasOther   bool
}

// SelectTop applies spec.md §4.4's top-N rule to a Result already sorted by
// Compute (decreasing Total, ties broken by case-insensitive LogicName).
func SelectTop(analyses []AnalysisTotal, spec TopSpec) Selection {
	if len(analyses) == 0 {
		return Selection{}
	}

	var keepCount int
	switch {
	case spec.N > 0:
		keepCount = spec.N
	case spec.Fraction > 0 && spec.Fraction < 1:
		grandTotal := 0.0
		for _, a := range analyses {
			grandTotal += a.Total
		}
		if grandTotal <= 0 {
			keepCount = len(analyses)
			break
		}
		target := 0.995 * spec.Fraction
		running := 0.0
		for i, a := range analyses {
			running += a.Total
			keepCount = i + 1
			if running/grandTotal >= target {
				break
			}
		}
	default:
		keepCount = len(analyses)
	}

	if keepCount > len(analyses) {
		keepCount = len(analyses)
	}
	if keepCount < 0 {
		keepCount = 0
	}

	sel := Selection{Kept: make([]int64, 0, keepCount)}
	for i := 0; i < keepCount; i++ {
		sel.Kept = append(sel.Kept, analyses[i].AnalysisID)
	}
	for i := keepCount; i < len(analyses); i++ {
		sel.OtherTotal += analyses[i].Total
		sel.HasOther = true
	}
	return sel
}

// Palette is the fixed 20-color categorical palette chart series are assigned
// from, in order, cycling if there are ever more than 20 kept analyses
// (spec.md §4.4). Values are the same category20-style hue rotation common to
// charting libraries in the pack (bobmcallan-vire's go-chart usage included).
var Palette = [20]string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
	"#aec7e8", "#ffbb78", "#98df8a", "#ff9896", "#c5b0d5",
	"#c49c94", "#f7b6d2", "#c7c7c7", "#dbdb8d", "#9edae5",
}

// ColorFor returns this kept analysis' stack color, deterministic by its
// position in the kept (already sorted) slice.
func ColorFor(index int) string {
	return Palette[index%len(Palette)]
}

// OtherColor is the fixed color for the collapsed OTHER series.
const OtherColor = "#444444"
