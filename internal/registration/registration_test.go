package registration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/device"
	"easybox-network/internal/geo"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapGeocoder map[string]geo.Point

func (m mapGeocoder) Geocode(_ context.Context, address string) (geo.Point, error) {
	if p, ok := m[address]; ok {
		return p, nil
	}
	return geo.Point{}, &utils.GeocodingFailure{Address: address}
}

// fakeInventory answers with items after failing the first failures calls.
type fakeInventory struct {
	mu       sync.Mutex
	items    []device.InventoryItem
	failures int
	err      error
	calls    int
}

func (f *fakeInventory) RequestCompartments(_ context.Context, clientID string) ([]device.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &utils.TimeoutError{Op: "request-compartments", Target: clientID, After: time.Second}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

var (
	origin = geo.Point{Lat: 44.43, Lon: 26.10}
	places = mapGeocoder{
		"Strada A 1":     origin,
		"Strada A 1 bis": {Lat: 44.43004, Lon: 26.10}, // ~4 m
		"Strada A 3":     {Lat: 44.43045, Lon: 26.10}, // ~50 m
		"Strada B 10":    {Lat: 44.4345, Lon: 26.10},  // ~500 m
		"Strada C 20":    {Lat: 44.50, Lon: 26.20},
	}
)

func newRegistrar(t *testing.T, inv *fakeInventory) (*Registrar, storage.Provider) {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Storage{SQLite: &config.SQLiteStorage{Path: filepath.Join(t.TempDir(), "registration.db")}}
	store, err := storage.NewSQLiteProvider(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx, -1))
	t.Cleanup(func() { store.Close() })

	r := NewRegistrar(store, places, inv, clock.NewManual(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)), config.Registration{}, 2)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r, store
}

func TestRegisterInsertSyncsCompartments(t *testing.T) {
	inv := &fakeInventory{items: []device.InventoryItem{
		{ID: 1, Size: 15, Temperature: 8},
		{ID: 2, Size: 30, Temperature: 4},
		{ID: 3, Size: 0, Temperature: 4},
	}, failures: 2}
	r, store := newRegistrar(t, inv)
	ctx := context.Background()

	res, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Empty(t, res.Secret)
	assert.Equal(t, 2, res.Compartments)
	assert.Equal(t, 3, inv.calls)

	l := res.Locker
	assert.False(t, l.Approved)
	assert.Equal(t, storage.LockerStatusActive, l.Status)
	assert.NotEmpty(t, l.Secret)
	assert.Equal(t, origin.Lat, l.Latitude)

	comps, err := store.ListCompartments(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, comps, 2)
}

func TestRegisterSyncFailureKeepsLocker(t *testing.T) {
	inv := &fakeInventory{failures: 10}
	r, store := newRegistrar(t, inv)
	ctx := context.Background()

	res, err := r.Register(ctx, "L1", "Strada A 1", "active")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Zero(t, res.Compartments)
	assert.Equal(t, 3, inv.calls)

	_, err = store.GetLockerByClientID(ctx, "L1")
	require.NoError(t, err)

	// later resync from the CLI
	inv.failures = 0
	inv.items = []device.InventoryItem{{ID: 7, Size: 20, Temperature: 4}}
	comps, err := r.SyncByClientID(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, int64(7), comps[0].DeviceRef)
}

func TestSyncDoesNotRetryPermanentErrors(t *testing.T) {
	inv := &fakeInventory{err: &utils.InvalidFormatError{Reason: "garbage"}}
	r, _ := newRegistrar(t, inv)
	ctx := context.Background()

	_, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)

	_, err = r.SyncByClientID(ctx, "nope")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRegisterUpdateAndMerge(t *testing.T) {
	r, store := newRegistrar(t, &fakeInventory{})
	ctx := context.Background()

	first, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)

	// same client id, new address
	res, err := r.Register(ctx, "L1", "Strada C 20", "inactive")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, first.Locker.ID, res.Locker.ID)
	assert.Equal(t, storage.LockerStatusInactive, res.Locker.Status)
	assert.Equal(t, 44.50, res.Locker.Latitude)

	// a new client id a few meters away takes over the locker
	_, err = r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	res, err = r.Register(ctx, "L1-new", "Strada A 1 bis", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Outcome)
	assert.Equal(t, first.Locker.ID, res.Locker.ID)

	l, err := store.GetLocker(ctx, first.Locker.ID)
	require.NoError(t, err)
	assert.Equal(t, "L1-new", l.ClientID)
	assert.Equal(t, "Strada A 1 bis", l.Address)

	lockers, err := store.ListLockers(ctx)
	require.NoError(t, err)
	assert.Len(t, lockers, 1)
}

func TestRegisterTooClose(t *testing.T) {
	r, store := newRegistrar(t, &fakeInventory{})
	ctx := context.Background()

	_, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)

	_, err = r.Register(ctx, "L2", "Strada A 3", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConflict)
	assert.Contains(t, err.Error(), "another locker too close")

	res, err := r.Register(ctx, "L2", "Strada B 10", "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Outcome)

	lockers, err := store.ListLockers(ctx)
	require.NoError(t, err)
	assert.Len(t, lockers, 2)
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newRegistrar(t, &fakeInventory{})
	ctx := context.Background()

	_, err := r.Register(ctx, "", "Strada A 1", "")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)
	_, err = r.Register(ctx, "L1", " ", "")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)
	_, err = r.Register(ctx, "L1", "Strada A 1", "sleeping")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)
	_, err = r.Register(ctx, "L1", "Nowhere 0", "")
	assert.ErrorIs(t, err, utils.ErrGeocoding)
}

func TestSecretDeliveredOnceAfterApproval(t *testing.T) {
	r, _ := newRegistrar(t, &fakeInventory{})
	ctx := context.Background()

	res, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	secret := res.Locker.Secret

	res, err = r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	assert.Empty(t, res.Secret, "not approved yet")

	l, err := r.Approve(ctx, "L1", "admin@example.com")
	require.NoError(t, err)
	assert.True(t, l.Approved)
	require.NotNil(t, l.ApprovedBy)

	res, err = r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	assert.Equal(t, secret, res.Secret)
	assert.True(t, res.Locker.SecretDelivered)

	res, err = r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)
	assert.Empty(t, res.Secret)
}

func TestSetStatus(t *testing.T) {
	r, _ := newRegistrar(t, &fakeInventory{})
	ctx := context.Background()

	_, err := r.Register(ctx, "L1", "Strada A 1", "")
	require.NoError(t, err)

	l, err := r.SetStatus(ctx, "L1", storage.LockerStatusInactive)
	require.NoError(t, err)
	assert.False(t, l.Active())

	_, err = r.SetStatus(ctx, "L1", "broken")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)
	_, err = r.SetStatus(ctx, "L9", storage.LockerStatusActive)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
