package profiler

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// supportedChartFormats are the extensions from spec.md §6's --output set
// this renderer can actually produce. ps/pdf/emf require vector backends the
// pack carries no library for; RenderChart fails explicitly on those rather
// than silently downgrading to PNG (spec.md §6, "non-zero on ...
// unsupported-format failure").
var supportedChartFormats = map[string]bool{
	".png": true, ".svg": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// RenderChart draws a stacked-area chart of the top-N analyses (plus an
// OTHER series) and writes it to path, choosing the render format from the
// file extension (spec.md §4.4, §6).
func RenderChart(path string, result *Result, sel Selection) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedChartFormats[ext] {
		return fmt.Errorf("profiler: unsupported chart output format %q", ext)
	}

	series := buildStackedSeries(result, sel)

	graph := chart.Chart{
		Title: "Hive worker activity",
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Concurrent workers",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.LegendThin(&graph)}

	if result.hasNoActivity() {
		graph.Elements = append(graph.Elements, nothingMarker())
	}

	switch ext {
	case ".svg":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("profiler: create %s: %w", path, err)
		}
		defer f.Close()
		return graph.Render(chart.SVG, f)
	case ".png":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("profiler: create %s: %w", path, err)
		}
		defer f.Close()
		return graph.Render(chart.PNG, f)
	case ".jpg", ".jpeg":
		img, err := renderToImage(&graph)
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("profiler: create %s: %w", path, err)
		}
		defer f.Close()
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case ".gif":
		img, err := renderToImage(&graph)
		if err != nil {
			return err
		}
		paletted := toPaletted(img)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("profiler: create %s: %w", path, err)
		}
		defer f.Close()
		return gif.Encode(f, paletted, nil)
	default:
		return fmt.Errorf("profiler: unsupported chart output format %q", ext)
	}
}

func renderToImage(graph *chart.Chart) (image.Image, error) {
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("profiler: render chart: %w", err)
	}
	img, _, err := image.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("profiler: decode rendered chart: %w", err)
	}
	return img, nil
}

func toPaletted(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	paletted := image.NewPaletted(bounds, nil)
	draw.FloydSteinberg.Draw(paletted, bounds, img, image.Point{})
	return paletted
}

// buildStackedSeries draws a stacked-area effect the way go-chart is
// typically coaxed into one: each series is the cumulative sum of itself and
// everything below it in the stack, drawn largest-first with a solid fill, so
// later (smaller) series paint over the top of the already-filled area
// underneath.
func buildStackedSeries(result *Result, sel Selection) []chart.Series {
	byID := make(map[int64]AnalysisTotal, len(result.Analyses))
	for _, a := range result.Analyses {
		byID[a.AnalysisID] = a
	}

	type stackSeries struct {
		id    int64
		name  string
		color string
		order float64
	}
	stacks := make([]stackSeries, 0, len(sel.Kept)+1)
	for i, id := range sel.Kept {
		stacks = append(stacks, stackSeries{id: id, name: byID[id].LogicName, color: ColorFor(i), order: byID[id].Total})
	}
	if sel.HasOther {
		stacks = append(stacks, stackSeries{id: -1, name: "OTHER", color: OtherColor, order: sel.OtherTotal})
	}
	// Stack the smallest total at the bottom; each series below holds the
	// running sum of itself and every series beneath it.
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].order < stacks[j].order })

	out := make([]chart.Series, 0, len(stacks))
	cumulative := make([]float64, len(result.Buckets))
	for _, s := range stacks {
		xs := make([]time.Time, len(result.Buckets))
		ys := make([]float64, len(result.Buckets))
		for i, b := range result.Buckets {
			xs[i] = b.Start
			var v float64
			if s.id == -1 {
				for id, val := range b.ByAnalysis {
					if !contains(sel.Kept, id) {
						v += val
					}
				}
			} else {
				v = b.ByAnalysis[s.id]
			}
			cumulative[i] += v
			ys[i] = cumulative[i]
		}
		color := hexToColor(s.color)
		out = append(out, chart.TimeSeries{
			Name: s.name,
			Style: chart.Style{
				StrokeWidth: 0,
				FillColor:   color.WithAlpha(200),
				StrokeColor: color,
			},
			XValues: xs,
			YValues: ys,
		})
	}
	// Return the top of the stack first, so each lower series is painted over
	// the taller fill drawn before it.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func hexToColor(hex string) drawing.Color {
	c, err := drawing.ParseHexColor(hex)
	if err != nil {
		return drawing.ColorBlack
	}
	return c
}

// nothingMarker draws the plain-text "NOTHING" annotation spec.md §4.4 calls
// for when every analysis was idle across the whole requested range.
func nothingMarker() chart.Renderable {
	return func(r chart.Renderer, cb chart.Box, defaults chart.Style) {
		r.SetFontColor(chart.ColorAlternateGray)
		r.SetFontSize(16)
		r.Text("NOTHING", cb.Left+10, cb.Top+20)
	}
}

func (r *Result) hasNoActivity() bool {
	if len(r.Buckets) == 0 {
		return false
	}
	for _, b := range r.Buckets {
		if !b.Empty() {
			return false
		}
	}
	return true
}
