package profiler

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteTSV renders a Result as tab-separated text: one column per kept
// analysis (ranked by total worker-time, per spec.md §4.4) plus an OTHER
// column when the selection folded any analyses, and one row per bucket.
// This is the CLI's default output when --output is not given (spec.md §6).
func WriteTSV(w io.Writer, result *Result, sel Selection) error {
	byID := make(map[int64]AnalysisTotal, len(result.Analyses))
	for _, a := range result.Analyses {
		byID[a.AnalysisID] = a
	}

	header := make([]string, 0, len(sel.Kept)+3)
	header = append(header, "bucket_start", "bucket_end")
	for _, id := range sel.Kept {
		header = append(header, byID[id].LogicName)
	}
	if sel.HasOther {
		header = append(header, "OTHER")
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")); err != nil {
		return err
	}

	for _, b := range result.Buckets {
		row := make([]string, 0, len(header))
		row = append(row, b.Start.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339))
		for _, id := range sel.Kept {
			row = append(row, formatValue(b.ByAnalysis[id]))
		}
		if sel.HasOther {
			var other float64
			for id, v := range b.ByAnalysis {
				if !contains(sel.Kept, id) {
					other += v
				}
			}
			row = append(row, formatValue(other))
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func contains(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
