// Package registration admits lockers into the network and keeps their
// compartment inventory in sync with what the hardware reports.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/device"
	"easybox-network/internal/geo"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/cenkalti/backoff/v5"
)

type Outcome string

const (
	OutcomeUpdated  Outcome = "updated"
	OutcomeMerged   Outcome = "merged"
	OutcomeInserted Outcome = "inserted"
)

const (
	defaultMergeRadius   = 10.0
	defaultMinSeparation = 100.0
)

// Inventory asks a locker for its compartments.
type Inventory interface {
	RequestCompartments(ctx context.Context, clientID string) ([]device.InventoryItem, error)
}

type Result struct {
	Locker  *storage.Locker `json:"locker"`
	Outcome Outcome         `json:"outcome"`
	// Secret is set only on the first response after approval.
	Secret string `json:"secret,omitempty"`
	// Compartments is the number synced during an insert.
	Compartments int `json:"compartments"`
}

type Registrar struct {
	store     storage.Provider
	geocoder  geo.Geocoder
	inventory Inventory
	clock     clock.Clock
	cfg       config.Registration
	retries   uint

	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

func NewRegistrar(store storage.Provider, geocoder geo.Geocoder, inventory Inventory, clk clock.Clock, cfg config.Registration, syncRetries uint) *Registrar {
	if cfg.MergeRadius <= 0 {
		cfg.MergeRadius = defaultMergeRadius
	}
	if cfg.MinSeparation <= 0 {
		cfg.MinSeparation = defaultMinSeparation
	}
	return &Registrar{
		store:     store,
		geocoder:  geocoder,
		inventory: inventory,
		clock:     clk,
		cfg:       cfg,
		retries:   syncRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		logger: slog.With("component", "registration"),
	}
}

func parseStatus(s string) (storage.LockerStatus, error) {
	switch storage.LockerStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", storage.LockerStatusActive:
		return storage.LockerStatusActive, nil
	case storage.LockerStatusInactive:
		return storage.LockerStatusInactive, nil
	}
	return "", &utils.InvalidFormatError{Input: s, Reason: "status must be active or inactive"}
}

// Register records a locker announcing itself. See Outcome for the possible
// results; a locker placed close to, but not on top of, another one is
// refused with a ConflictError.
func (r *Registrar) Register(ctx context.Context, clientID, address, status string) (*Result, error) {
	clientID = strings.TrimSpace(clientID)
	address = strings.TrimSpace(address)
	if clientID == "" {
		return nil, &utils.InvalidFormatError{Input: clientID, Reason: "client id is required"}
	}
	if address == "" {
		return nil, &utils.InvalidFormatError{Input: address, Reason: "address is required"}
	}
	st, err := parseStatus(status)
	if err != nil {
		return nil, err
	}

	point, err := r.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.GetLockerByClientID(ctx, clientID)
	switch {
	case err == nil:
		existing.Address = address
		existing.Latitude = point.Lat
		existing.Longitude = point.Lon
		existing.Status = st
		return r.save(ctx, existing, OutcomeUpdated)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	lockers, err := r.store.ListLockers(ctx)
	if err != nil {
		return nil, err
	}
	var (
		nearest  *storage.Locker
		distance float64
	)
	for i := range lockers {
		d := point.DistanceTo(geo.Point{Lat: lockers[i].Latitude, Lon: lockers[i].Longitude})
		if nearest == nil || d < distance {
			nearest, distance = &lockers[i], d
		}
	}

	if nearest != nil && distance <= r.cfg.MergeRadius {
		r.logger.Info("Merging locker registration", "clientId", clientID, "into", nearest.ID,
			"previousClientId", nearest.ClientID, "distance", distance)
		nearest.ClientID = clientID
		nearest.Address = address
		return r.save(ctx, nearest, OutcomeMerged)
	}
	if nearest != nil && distance < r.cfg.MinSeparation {
		return nil, &utils.ConflictError{Reason: fmt.Sprintf("another locker too close (%.0f m)", distance)}
	}

	return r.insert(ctx, clientID, address, point, st)
}

func (r *Registrar) save(ctx context.Context, l *storage.Locker, outcome Outcome) (*Result, error) {
	res := &Result{Locker: l, Outcome: outcome}
	if l.Approved && !l.SecretDelivered {
		res.Secret = l.Secret
		l.SecretDelivered = true
	}
	if err := r.store.UpdateLocker(ctx, l); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrUniqueViolation) {
			return nil, &utils.ConflictError{Reason: "locker changed concurrently", Err: err}
		}
		return nil, err
	}
	if res.Secret != "" {
		r.logger.Info("Locker secret delivered", "locker", l.ID, "clientId", l.ClientID)
	}
	return res, nil
}

func (r *Registrar) insert(ctx context.Context, clientID, address string, point geo.Point, st storage.LockerStatus) (*Result, error) {
	secret, err := utils.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate locker secret: %w", err)
	}
	l := &storage.Locker{
		ClientID:        clientID,
		Address:         address,
		Latitude:        point.Lat,
		Longitude:       point.Lon,
		Status:          st,
		Secret:          secret,
		SecretRotatedAt: r.clock.Now(),
	}
	if err := r.store.CreateLocker(ctx, l); err != nil {
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, &utils.ConflictError{Reason: "locker registered concurrently", Err: err}
		}
		return nil, err
	}
	r.logger.Info("Locker registered", "locker", l.ID, "clientId", clientID, "address", address)

	res := &Result{Locker: l, Outcome: OutcomeInserted}
	comps, err := r.Sync(ctx, l)
	if err != nil {
		r.logger.Warn("Compartment sync failed, locker stays without inventory", "locker", l.ID, "error", err)
		return res, nil
	}
	res.Compartments = len(comps)
	return res, nil
}

// Sync pulls the compartment list from the locker and stores it. Timeouts
// and an already running request are retried.
func (r *Registrar) Sync(ctx context.Context, l *storage.Locker) ([]storage.Compartment, error) {
	if r.inventory == nil {
		return nil, &utils.ConfigurationError{Err: errors.New("no device channel configured")}
	}
	items, err := backoff.Retry(ctx, func() ([]device.InventoryItem, error) {
		items, err := r.inventory.RequestCompartments(ctx, l.ClientID)
		if err != nil && !utils.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return items, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.retries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug("Retrying compartment request", "clientId", l.ClientID, "error", err, "wait", wait)
		}),
	)
	if err != nil {
		return nil, err
	}

	comps := make([]storage.Compartment, 0, len(items))
	for _, it := range items {
		if it.Size <= 0 {
			r.logger.Warn("Skipping compartment with invalid size", "clientId", l.ClientID, "ref", it.ID, "size", it.Size)
			continue
		}
		comps = append(comps, storage.Compartment{DeviceRef: it.ID, Size: it.Size, Temperature: it.Temperature})
	}
	if err := r.store.UpsertCompartments(ctx, l.ID, comps); err != nil {
		return nil, err
	}
	r.logger.Info("Compartments synced", "locker", l.ID, "count", len(comps))
	return comps, nil
}

// SyncByClientID is Sync for a locker looked up by its client id.
func (r *Registrar) SyncByClientID(ctx context.Context, clientID string) ([]storage.Compartment, error) {
	l, err := r.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return r.Sync(ctx, l)
}

// Approve admits a locker. Its secret is handed out on its next registration.
func (r *Registrar) Approve(ctx context.Context, clientID, by string) (*storage.Locker, error) {
	l, err := r.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if l.Approved {
		return l, nil
	}
	l.Approved = true
	if by != "" {
		l.ApprovedBy = &by
	}
	if err := r.update(ctx, l); err != nil {
		return nil, err
	}
	r.logger.Info("Locker approved", "locker", l.ID, "clientId", l.ClientID, "by", by)
	return l, nil
}

// SetStatus flips a locker between active and inactive. The sweep picks up
// the consequences for running reservations.
func (r *Registrar) SetStatus(ctx context.Context, clientID string, status storage.LockerStatus) (*storage.Locker, error) {
	st, err := parseStatus(string(status))
	if err != nil {
		return nil, err
	}
	l, err := r.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if l.Status == st {
		return l, nil
	}
	l.Status = st
	if err := r.update(ctx, l); err != nil {
		return nil, err
	}
	r.logger.Info("Locker status changed", "locker", l.ID, "status", st)
	return l, nil
}

func (r *Registrar) lookup(ctx context.Context, clientID string) (*storage.Locker, error) {
	l, err := r.store.GetLockerByClientID(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "locker", ID: clientID}
	}
	return l, err
}

func (r *Registrar) update(ctx context.Context, l *storage.Locker) error {
	err := r.store.UpdateLocker(ctx, l)
	if errors.Is(err, storage.ErrVersionConflict) {
		return &utils.ConflictError{Reason: "locker changed concurrently", Err: err}
	}
	return err
}
