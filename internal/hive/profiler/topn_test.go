package profiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/hive/profiler"
)

func analyses(totals ...float64) []profiler.AnalysisTotal {
	out := make([]profiler.AnalysisTotal, len(totals))
	for i, total := range totals {
		out[i] = profiler.AnalysisTotal{AnalysisID: int64(i + 1), LogicName: string(rune('a' + i)), Total: total}
	}
	return out
}

func TestSelectTop_ByN(t *testing.T) {
	sel := profiler.SelectTop(analyses(50, 30, 10, 5, 5), profiler.TopSpec{N: 2})
	require.Equal(t, []int64{1, 2}, sel.Kept)
	require.True(t, sel.HasOther)
	require.InDelta(t, 20.0, sel.OtherTotal, 1e-9)
}

func TestSelectTop_ByFraction(t *testing.T) {
	// grandTotal=100, target=0.995*0.9=0.8955. Running after [50]=0.50,
	// after [50,30]=0.80, after [50,30,10]=0.90 >= 0.8955, so 3 are kept.
	sel := profiler.SelectTop(analyses(50, 30, 10, 5, 5), profiler.TopSpec{Fraction: 0.9})
	require.Equal(t, []int64{1, 2, 3}, sel.Kept)
	require.True(t, sel.HasOther)
	require.InDelta(t, 10.0, sel.OtherTotal, 1e-9)
}

func TestSelectTop_NoSpecKeepsEverything(t *testing.T) {
	sel := profiler.SelectTop(analyses(50, 30, 10), profiler.TopSpec{})
	require.Equal(t, []int64{1, 2, 3}, sel.Kept)
	require.False(t, sel.HasOther)
	require.Zero(t, sel.OtherTotal)
}

func TestSelectTop_NGreaterThanLengthKeepsEverything(t *testing.T) {
	sel := profiler.SelectTop(analyses(50, 30), profiler.TopSpec{N: 10})
	require.Equal(t, []int64{1, 2}, sel.Kept)
	require.False(t, sel.HasOther)
}

func TestSelectTop_EmptyInput(t *testing.T) {
	sel := profiler.SelectTop(nil, profiler.TopSpec{N: 5})
	require.Empty(t, sel.Kept)
	require.False(t, sel.HasOther)
}

func TestColorFor_CyclesThroughPalette(t *testing.T) {
	require.Equal(t, profiler.Palette[0], profiler.ColorFor(0))
	require.Equal(t, profiler.Palette[0], profiler.ColorFor(20), "color assignment must cycle past the 20-color palette")
	require.Equal(t, profiler.Palette[19], profiler.ColorFor(19))
}
