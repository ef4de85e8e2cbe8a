// Package output renders reports and records for the vitals CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/stats"
)

// Histogram dimensions
const (
	HistogramBuckets = 10
	HistogramWidth   = 40
)

// Report is everything the report command prints.
type Report struct {
	Start    string      `json:"start"`
	Stop     string      `json:"stop"`
	MinDate  *string     `json:"min_date"`
	MaxDate  *string     `json:"max_date"`
	Patients int         `json:"patients"`
	MinCount int         `json:"min_count"`
	Rows     []stats.Row `json:"vitals"`
}

// NewReport builds a Report from an aggregation result.
func NewReport(res *stats.Result, window stats.Window, patients, minCount int) Report {
	return Report{
		Start:    core.FormatDate(window.Start),
		Stop:     core.FormatDate(window.Stop),
		MinDate:  formatOptional(res.MinDate),
		MaxDate:  formatOptional(res.MaxDate),
		Patients: patients,
		MinCount: minCount,
		Rows:     res.Reportable(minCount),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := core.FormatDate(*t)
	return &s
}

func orNone(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}

// WriteReport writes the text form of r: the observed date range, the
// counts list, then one histogram per reportable code.
func WriteReport(w io.Writer, r Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\nDate range: %s => %s\n\n", orNone(r.MinDate), orNone(r.MaxDate))
	b.WriteString("Counts\n\n")

	if len(r.Rows) == 0 {
		fmt.Fprintf(&b, "No vital sign was observed at least %d times.\n", r.MinCount)
	}

	for _, row := range r.Rows {
		fmt.Fprintf(&b, "[%s] [%s]: (%d)\n", row.Display, row.Code, row.Count)
	}

	for _, row := range r.Rows {
		fmt.Fprintf(&b, "\nCommunity Histogram: %s (%s)\n%s to %s\n",
			row.Display, row.Units, orNone(r.MinDate), orNone(r.MaxDate))
		writeHistogram(&b, row.Values, HistogramBuckets, HistogramWidth)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteHistogram writes an ASCII histogram of values with the given
// number of equal-width buckets.
func WriteHistogram(w io.Writer, values []float64, buckets, width int) error {
	var b strings.Builder
	writeHistogram(&b, values, buckets, width)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeHistogram(b *strings.Builder, values []float64, buckets, width int) {
	if len(values) == 0 {
		b.WriteString("(no values)\n")
		return
	}
	if buckets < 1 {
		buckets = 1
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo == hi {
		buckets = 1
	}

	counts := make([]int, buckets)
	span := hi - lo
	for _, v := range values {
		i := 0
		if span > 0 {
			i = int((v - lo) / span * float64(buckets))
		}
		counts[min(i, buckets-1)]++
	}

	peak := 0
	for _, c := range counts {
		peak = max(peak, c)
	}

	step := span / float64(buckets)
	for i, c := range counts {
		bar := c * width / peak
		if c > 0 && bar == 0 {
			bar = 1
		}
		from := lo + step*float64(i)
		to := from + step
		fmt.Fprintf(b, "%10.2f - %-10.2f |%s %d\n", from, to, strings.Repeat("#", bar), c)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteIDs writes one patient id per line.
func WriteIDs(w io.Writer, ids []int) error {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%d\n", id)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteVitals writes a table of observations.
func WriteVitals(w io.Writer, vitals []api.Vital) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCODE\tDISPLAY\tVALUE\tUNITS")
	for _, v := range vitals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\n",
			core.DatePhrase(v.Applies), v.Coding.Code, v.Coding.Display, v.Quantity.Value, v.Quantity.Units)
	}
	return tw.Flush()
}

// WriteEntries writes the title and update time of each entry.
func WriteEntries(w io.Writer, entries []api.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Title, e.Updated)
	}
	return tw.Flush()
}
