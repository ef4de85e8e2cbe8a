// Package stats groups patient observations by what they measured.
package stats

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/colthorp/vitals-cli-go/internal/api"
	"github.com/colthorp/vitals-cli-go/internal/cache"
	"github.com/colthorp/vitals-cli-go/internal/core"
)

// ErrDateParse matches DateParseError.
var ErrDateParse = errors.New("stats: observation date could not be parsed")

// DateParseError reports an observation whose date does not match the
// configured layout. It aborts the aggregation.
type DateParseError struct {
	PatientID int
	Phrase    string
	Layout    string
	Err       error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("patient %d: date %q does not match layout %q: %v", e.PatientID, e.Phrase, e.Layout, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }

func (e *DateParseError) Is(target error) bool { return target == ErrDateParse }

// Window is the half-open date range [Start, Stop).
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Contains reports whether Start <= t < Stop.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.Stop)
}

// Result holds the grouped observations.
//
// Counts[c] == len(Bins[c]) and Display has the same keys as Bins once the
// result has been returned by Aggregator.Result.
type Result struct {
	Bins    map[string][]api.Quantity `json:"bins"`
	Display map[string]string         `json:"display"`
	MinDate *time.Time                `json:"min_date"`
	MaxDate *time.Time                `json:"max_date"`
	Counts  map[string]int            `json:"counts"`
	Order   []string                  `json:"order"`
}

// Row is one reportable code.
type Row struct {
	Code    string    `json:"code"`
	Display string    `json:"display"`
	Count   int       `json:"count"`
	Units   string    `json:"units"`
	Values  []float64 `json:"values"`
}

// Reportable returns the codes seen at least minCount times, fewest first.
// Codes with equal counts keep the order they were first seen in.
func (r *Result) Reportable(minCount int) []Row {
	rows := make([]Row, 0, len(r.Order))
	for _, code := range r.Order {
		bin := r.Bins[code]
		if len(bin) < minCount {
			continue
		}
		values := make([]float64, len(bin))
		for i, q := range bin {
			values[i] = q.Value
		}
		row := Row{
			Code:    code,
			Display: r.Display[code],
			Count:   len(bin),
			Values:  values,
		}
		if len(bin) > 0 {
			row.Units = bin[0].Units
		}
		rows = append(rows, row)
	}

	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Compare(a.Count, b.Count)
	})
	return rows
}

// Aggregator folds observations into a Result in a single pass.
type Aggregator struct {
	window Window
	layout string
	result *Result
}

// New creates an Aggregator for window. An empty layout uses core.DateFmt.
func New(window Window, layout string) *Aggregator {
	if layout == "" {
		layout = core.DateFmt
	}
	return &Aggregator{
		window: window,
		layout: layout,
		result: &Result{
			Bins:    make(map[string][]api.Quantity),
			Display: make(map[string]string),
			Counts:  make(map[string]int),
		},
	}
}

// parse reads the date phrase of an observation. The default layout also
// accepts months and days without their leading zero.
func (a *Aggregator) parse(phrase string) (time.Time, error) {
	if a.layout != core.DateFmt {
		return time.Parse(a.layout, phrase)
	}
	date, err := time.Parse(a.layout, phrase)
	if err == nil {
		return date, nil
	}
	if head, _, _ := strings.Cut(phrase, "T"); head != phrase {
		phrase = head
	}
	if lenient, lerr := core.ParseDate(phrase); lerr == nil {
		return lenient, nil
	}
	return time.Time{}, err
}

// Add records one observation of patientID. Observations outside the
// window are ignored.
func (a *Aggregator) Add(patientID int, v api.Vital) error {
	phrase := core.DatePhrase(v.Applies)
	date, err := a.parse(phrase)
	if err != nil {
		return &DateParseError{PatientID: patientID, Phrase: v.Applies, Layout: a.layout, Err: err}
	}
	if !a.window.Contains(date) {
		return nil
	}

	r := a.result
	if r.MinDate == nil || date.Before(*r.MinDate) {
		d := date
		r.MinDate = &d
	}
	if r.MaxDate == nil || date.After(*r.MaxDate) {
		d := date
		r.MaxDate = &d
	}

	code := v.Coding.Code
	if _, seen := r.Bins[code]; !seen {
		r.Order = append(r.Order, code)
	}
	r.Bins[code] = append(r.Bins[code], v.Quantity)
	r.Display[code] = v.Coding.Display
	return nil
}

// Aggregate consumes seq and returns the finished Result. The first error
// from seq or from Add aborts the run.
func (a *Aggregator) Aggregate(ctx context.Context, seq iter.Seq2[cache.PatientVitals, error]) (*Result, error) {
	for pv, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, v := range pv.Vitals {
			if err := a.Add(pv.PatientID, v); err != nil {
				return nil, err
			}
		}
	}
	return a.Result(), nil
}

// Result fills in Counts and returns the aggregate so far.
func (a *Aggregator) Result() *Result {
	r := a.result
	for code := range r.Display {
		r.Counts[code] = len(r.Bins[code])
	}
	return r
}
