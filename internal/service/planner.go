package service

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
)

// Search window around the cancelled flight's departure.  Both bounds are
// inclusive.
const (
	WindowBefore = 24 * time.Hour
	WindowAfter  = 48 * time.Hour
)

// Planner suggests replacement flights for a cancelled one.
type Planner struct {
	store repository.Store
	opts  Options
}

func NewPlanner(store repository.Store, opts Options) *Planner {
	return &Planner{store: store, opts: opts.normalize()}
}

// SuggestAlternatives returns flights on the same route departing within
// [departure-WindowBefore, departure+WindowAfter] that are neither
// cancelled nor delayed, ordered by departure time and then id.
func (p *Planner) SuggestAlternatives(ctx context.Context, cancelledFlightID uint64) ([]model.Flight, error) {
	var (
		f          *model.Flight
		candidates []model.Flight
	)
	err := p.opts.call(ctx, "get flight", func(ctx context.Context) error {
		var err error
		f, err = p.store.GetFlight(ctx, cancelledFlightID)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = p.opts.call(ctx, "find flights by route", func(ctx context.Context) error {
		var err error
		candidates, err = p.store.FindFlightsByRoute(ctx, f.DestinationCityID, f.OriginCityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return filterAlternatives(f, candidates), nil
}

func filterAlternatives(f *model.Flight, candidates []model.Flight) []model.Flight {
	from := f.DepartureAt.Add(-WindowBefore)
	to := f.DepartureAt.Add(WindowAfter)
	out := []model.Flight{}
	for _, c := range candidates {
		if c.ID == f.ID {
			continue
		}
		if c.OriginCityID != f.OriginCityID || c.DestinationCityID != f.DestinationCityID {
			continue
		}
		if c.Status == model.FlightCancelled || c.Status == model.FlightDelayed {
			continue
		}
		if c.DepartureAt.Before(from) || c.DepartureAt.After(to) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].DepartureAt.Before(out[j].DepartureAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
