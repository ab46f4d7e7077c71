// Package search finds lockers with a compartment that can take an order for
// a given time window.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/geo"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"golang.org/x/text/cases"
)

type Query struct {
	// Exactly one of Address or LockerID is used. LockerID wins when both are set.
	Address  string
	LockerID int64

	Start time.Time
	End   time.Time

	MinTemp *int // exact match when set
	MinSize *int
}

type Candidate struct {
	Locker      storage.Locker      `json:"locker"`
	Compartment storage.Compartment `json:"compartment"`
	Distance    float64             `json:"distance"` // meters from the searched address
}

type Result struct {
	Recommended *Candidate  `json:"recommended"`
	Alternates  []Candidate `json:"alternates"`
}

// Empty reports whether nothing can be booked.
func (r *Result) Empty() bool {
	return r.Recommended == nil
}

type Searcher struct {
	store    storage.Provider
	geocoder geo.Geocoder
	clock    clock.Clock
	fold     cases.Caser
	logger   *slog.Logger
}

func NewSearcher(store storage.Provider, geocoder geo.Geocoder, clk clock.Clock) *Searcher {
	return &Searcher{
		store:    store,
		geocoder: geocoder,
		clock:    clk,
		fold:     cases.Fold(),
		logger:   slog.With("component", "search"),
	}
}

func (s *Searcher) sameAddress(a, b string) bool {
	return s.fold.String(strings.TrimSpace(a)) == s.fold.String(strings.TrimSpace(b))
}

// FindAvailable ranks the lockers that have an eligible compartment for q.
// An empty result is not an error.
func (s *Searcher) FindAvailable(ctx context.Context, q Query) (*Result, error) {
	if !q.Start.Before(q.End) {
		return nil, &utils.InvalidFormatError{Reason: "window start must be before its end"}
	}

	var (
		lockers []storage.Locker
		origin  geo.Point
	)
	switch {
	case q.LockerID != 0:
		l, err := s.store.GetLocker(ctx, q.LockerID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &utils.NotFoundError{Kind: "locker", ID: q.LockerID}
		}
		if err != nil {
			return nil, err
		}
		lockers = []storage.Locker{*l}
		origin = geo.Point{Lat: l.Latitude, Lon: l.Longitude}
	case strings.TrimSpace(q.Address) != "":
		p, err := s.geocoder.Geocode(ctx, q.Address)
		if err != nil {
			return nil, err
		}
		origin = p
		if lockers, err = s.store.ListLockers(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, &utils.InvalidFormatError{Reason: "address or locker id is required"}
	}

	occupied, err := s.store.OccupiedCompartments(ctx, q.Start, q.End, s.clock.Now())
	if err != nil {
		return nil, err
	}

	var (
		available []Candidate
		exact     = -1
	)
	for _, l := range lockers {
		if !l.Active() || !l.Approved {
			continue
		}
		comps, err := s.store.ListCompartments(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("compartments of locker %d: %w", l.ID, err)
		}
		best, ok := bestCompartment(comps, q, occupied)
		if !ok {
			continue
		}
		available = append(available, Candidate{
			Locker:      l,
			Compartment: best,
			Distance:    origin.DistanceTo(geo.Point{Lat: l.Latitude, Lon: l.Longitude}),
		})
	}

	sort.SliceStable(available, func(i, j int) bool {
		if available[i].Distance != available[j].Distance {
			return available[i].Distance < available[j].Distance
		}
		return available[i].Locker.ID < available[j].Locker.ID
	})

	if q.LockerID == 0 {
		for i := range available {
			if s.sameAddress(available[i].Locker.Address, q.Address) {
				exact = i
				break
			}
		}
	}

	res := &Result{Alternates: []Candidate{}}
	if len(available) == 0 {
		return res, nil
	}
	if exact < 0 {
		exact = 0
	}
	rec := available[exact]
	res.Recommended = &rec
	for i, c := range available {
		if i != exact {
			res.Alternates = append(res.Alternates, c)
		}
	}

	s.logger.Debug("Search finished", "lockers", len(lockers), "available", len(available),
		"recommended", rec.Locker.ID)
	return res, nil
}

// Eligible reports whether c can take an order for q ignoring time overlap.
func Eligible(c storage.Compartment, q Query) bool {
	if !c.Condition.Usable() || c.Status == storage.CompartmentBusy {
		return false
	}
	if q.MinTemp != nil && c.Temperature != *q.MinTemp {
		return false
	}
	if q.MinSize != nil && c.Size < *q.MinSize {
		return false
	}
	return true
}

// bestCompartment picks the smallest eligible compartment, lowest id first on ties.
func bestCompartment(comps []storage.Compartment, q Query, occupied map[int64]bool) (storage.Compartment, bool) {
	var (
		best  storage.Compartment
		found bool
	)
	for _, c := range comps {
		if !Eligible(c, q) || occupied[c.ID] {
			continue
		}
		if !found || c.Size < best.Size || (c.Size == best.Size && c.ID < best.ID) {
			best, found = c, true
		}
	}
	return best, found
}
