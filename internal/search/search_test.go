package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/geo"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	winStart = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	winEnd   = time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC)
)

type fixedGeocoder map[string]geo.Point

func (f fixedGeocoder) Geocode(_ context.Context, address string) (geo.Point, error) {
	p, ok := f[address]
	if !ok {
		return geo.Point{}, &utils.GeocodingFailure{Address: address}
	}
	return p, nil
}

func newStore(t *testing.T) *storage.SQLiteProvider {
	t.Helper()
	cfg := &config.Storage{SQLite: &config.SQLiteStorage{Path: filepath.Join(t.TempDir(), "search.db")}}
	p, err := storage.NewSQLiteProvider(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Migrate(context.Background(), -1))
	t.Cleanup(func() { p.Close() })
	return p
}

func addLocker(t *testing.T, p storage.Provider, clientID, address string, lat, lon float64, comps ...storage.Compartment) *storage.Locker {
	t.Helper()
	ctx := context.Background()
	l := &storage.Locker{
		ClientID:  clientID,
		Address:   address,
		Latitude:  lat,
		Longitude: lon,
		Status:    storage.LockerStatusActive,
		Approved:  true,
		Secret:    "secret",
	}
	require.NoError(t, p.CreateLocker(ctx, l))
	require.NoError(t, p.UpsertCompartments(ctx, l.ID, comps))
	return l
}

func intp(v int) *int { return &v }

func TestSingleLockerWorld(t *testing.T) {
	store := newStore(t)
	l1 := addLocker(t, store, "L1", "Bulevardul Unirii 1", 44.43, 26.10,
		storage.Compartment{DeviceRef: 1, Size: 15, Temperature: 8})

	s := NewSearcher(store, fixedGeocoder{"Bulevardul Unirii 1": {Lat: 44.43, Lon: 26.10}}, clock.NewManual(winStart.Add(-24*time.Hour)))

	res, err := s.FindAvailable(context.Background(), Query{
		Address: "Bulevardul Unirii 1",
		Start:   winStart,
		End:     winEnd,
		MinTemp: intp(8),
		MinSize: intp(10),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Recommended)
	assert.Equal(t, l1.ID, res.Recommended.Locker.ID)
	assert.Equal(t, 15, res.Recommended.Compartment.Size)
	assert.Empty(t, res.Alternates)

	byID, err := s.FindAvailable(context.Background(), Query{LockerID: l1.ID, Start: winStart, End: winEnd})
	require.NoError(t, err)
	require.NotNil(t, byID.Recommended)
	assert.Equal(t, l1.ID, byID.Recommended.Locker.ID)
	assert.Zero(t, byID.Recommended.Distance)
}

func TestConstraintsFilterCompartments(t *testing.T) {
	store := newStore(t)
	l := addLocker(t, store, "L1", "Somewhere 1", 44.43, 26.10,
		storage.Compartment{DeviceRef: 1, Size: 15, Temperature: 8},
		storage.Compartment{DeviceRef: 2, Size: 30, Temperature: 4},
	)
	s := NewSearcher(store, fixedGeocoder{}, clock.NewManual(winStart))
	ctx := context.Background()

	res, err := s.FindAvailable(ctx, Query{LockerID: l.ID, Start: winStart, End: winEnd, MinTemp: intp(8), MinSize: intp(20)})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.NotNil(t, res.Alternates)

	res, err = s.FindAvailable(ctx, Query{LockerID: l.ID, Start: winStart, End: winEnd, MinTemp: intp(4)})
	require.NoError(t, err)
	require.NotNil(t, res.Recommended)
	assert.Equal(t, int64(2), res.Recommended.Compartment.DeviceRef)

	// without constraints the smallest compartment wins
	res, err = s.FindAvailable(ctx, Query{LockerID: l.ID, Start: winStart, End: winEnd})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Recommended.Compartment.DeviceRef)

	// a dirty compartment is skipped
	c := res.Recommended.Compartment
	c.Condition = storage.ConditionDirty
	require.NoError(t, store.UpdateCompartment(ctx, &c))
	res, err = s.FindAvailable(ctx, Query{LockerID: l.ID, Start: winStart, End: winEnd})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Recommended.Compartment.DeviceRef)
}

func TestEquidistantLockersRankByID(t *testing.T) {
	store := newStore(t)
	comp := storage.Compartment{DeviceRef: 1, Size: 10, Temperature: 8}
	// mirrored around the origin on the same meridian
	north := addLocker(t, store, "N", "North 1", 44.01, 26.0, comp)
	south := addLocker(t, store, "S", "South 1", 43.99, 26.0, comp)
	far := addLocker(t, store, "F", "Far 1", 45.0, 26.0, comp)

	s := NewSearcher(store, fixedGeocoder{"Origin": {Lat: 44.0, Lon: 26.0}}, clock.NewManual(winStart))
	res, err := s.FindAvailable(context.Background(), Query{Address: "Origin", Start: winStart, End: winEnd})
	require.NoError(t, err)

	require.NotNil(t, res.Recommended)
	require.Len(t, res.Alternates, 2)
	assert.InDelta(t, res.Recommended.Distance, res.Alternates[0].Distance, 1e-6)
	assert.Equal(t, north.ID, res.Recommended.Locker.ID)
	assert.Equal(t, south.ID, res.Alternates[0].Locker.ID)
	assert.Equal(t, far.ID, res.Alternates[1].Locker.ID)
}

func TestExactAddressIsRecommended(t *testing.T) {
	store := newStore(t)
	comp := storage.Compartment{DeviceRef: 1, Size: 10, Temperature: 8}
	near := addLocker(t, store, "near", "Strada Mare 2", 44.0001, 26.0, comp)
	exact := addLocker(t, store, "exact", "Strada Mare 10", 44.01, 26.0, comp)

	s := NewSearcher(store, fixedGeocoder{"strada MARE 10 ": {Lat: 44.0, Lon: 26.0}}, clock.NewManual(winStart))
	res, err := s.FindAvailable(context.Background(), Query{Address: "strada MARE 10 ", Start: winStart, End: winEnd})
	require.NoError(t, err)
	assert.Equal(t, exact.ID, res.Recommended.Locker.ID)
	require.Len(t, res.Alternates, 1)
	assert.Equal(t, near.ID, res.Alternates[0].Locker.ID)
}

func TestInactiveAndOccupiedLockersAreSkipped(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	comp := storage.Compartment{DeviceRef: 1, Size: 10, Temperature: 8}
	down := addLocker(t, store, "down", "A 1", 44.0, 26.0, comp)
	busy := addLocker(t, store, "busy", "B 1", 44.001, 26.0, comp)
	free := addLocker(t, store, "free", "C 1", 44.5, 26.0, comp)

	down.Status = storage.LockerStatusInactive
	require.NoError(t, store.UpdateLocker(ctx, down))

	comps, err := store.ListCompartments(ctx, busy.ID)
	require.NoError(t, err)
	u := &storage.User{Phone: "+40711111111"}
	require.NoError(t, store.CreateUser(ctx, u))
	now := winStart.Add(-time.Hour)
	exp := now.Add(15 * time.Minute)
	require.NoError(t, store.InsertReservation(ctx, &storage.Reservation{
		UserID: u.ID, BakeryID: 1, LockerID: busy.ID, CompartmentID: comps[0].ID,
		Status: storage.StatusPending, ReservationStart: winStart, ReservationEnd: winEnd,
		DeliveryTime: winStart.Add(3 * time.Hour), ExpiresAt: &exp, CreatedAt: now,
	}))

	clk := clock.NewManual(now)
	s := NewSearcher(store, fixedGeocoder{"A 1": {Lat: 44.0, Lon: 26.0}}, clk)
	res, err := s.FindAvailable(ctx, Query{Address: "A 1", Start: winStart, End: winEnd})
	require.NoError(t, err)
	assert.Equal(t, free.ID, res.Recommended.Locker.ID)
	assert.Empty(t, res.Alternates)

	// once the hold lapses the nearer locker is back
	clk.Advance(20 * time.Minute)
	res, err = s.FindAvailable(ctx, Query{Address: "A 1", Start: winStart, End: winEnd})
	require.NoError(t, err)
	assert.Equal(t, busy.ID, res.Recommended.Locker.ID)
}

func TestQueryValidation(t *testing.T) {
	store := newStore(t)
	s := NewSearcher(store, fixedGeocoder{}, clock.NewManual(winStart))
	ctx := context.Background()

	_, err := s.FindAvailable(ctx, Query{Address: "x", Start: winEnd, End: winStart})
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)

	_, err = s.FindAvailable(ctx, Query{Start: winStart, End: winEnd})
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)

	_, err = s.FindAvailable(ctx, Query{LockerID: 42, Start: winStart, End: winEnd})
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = s.FindAvailable(ctx, Query{Address: "unknown", Start: winStart, End: winEnd})
	assert.ErrorIs(t, err, utils.ErrGeocoding)
}
