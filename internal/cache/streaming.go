package cache

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/colthorp/vitals-cli-go/internal/api"
)

// PatientVitals pairs a patient with its observations.
type PatientVitals struct {
	PatientID int
	Vitals    []api.Vital
}

// StreamVitals yields the vitals of every id in ids order.
//
// With parallel <= 1 each patient is retrieved only when the consumer asks
// for it. With parallel > 1 up to parallel retrievals run at once and the
// results are yielded in ids order once all have completed, so consumers
// see the same sequence either way. The first error stops the remaining
// work and is yielded once.
func (m *Manager) StreamVitals(ctx context.Context, ids []int, parallel int) iter.Seq2[PatientVitals, error] {
	if parallel <= 1 {
		return m.streamSequential(ctx, ids)
	}
	return m.streamParallel(ctx, ids, parallel)
}

// streamSequential fetches patient by patient.
func (m *Manager) streamSequential(ctx context.Context, ids []int) iter.Seq2[PatientVitals, error] {
	return func(yield func(PatientVitals, error) bool) {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(PatientVitals{}, err)
				return
			}
			vitals, err := m.VitalsFor(ctx, id)
			if err != nil {
				yield(PatientVitals{PatientID: id}, err)
				return
			}
			if !yield(PatientVitals{PatientID: id, Vitals: vitals}, nil) {
				return
			}
		}
	}
}

// streamParallel fetches with a bounded worker group, then yields in order.
func (m *Manager) streamParallel(ctx context.Context, ids []int, parallel int) iter.Seq2[PatientVitals, error] {
	return func(yield func(PatientVitals, error) bool) {
		results := make([][]api.Vital, len(ids))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)

		for i, id := range ids {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				vitals, err := m.sharedVitalsFor(gctx, id)
				if err != nil {
					return err
				}
				results[i] = vitals
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			yield(PatientVitals{}, err)
			return
		}

		for i, id := range ids {
			if !yield(PatientVitals{PatientID: id, Vitals: results[i]}, nil) {
				return
			}
		}
	}
}
