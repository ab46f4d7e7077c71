package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"easybox-network/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestProvider(t *testing.T) *SQLiteProvider {
	t.Helper()
	cfg := &config.Storage{SQLite: &config.SQLiteStorage{Path: filepath.Join(t.TempDir(), "test.db")}}
	p, err := NewSQLiteProvider(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Migrate(context.Background(), -1))
	t.Cleanup(func() { p.Close() })
	return p
}

func seedLocker(t *testing.T, p *SQLiteProvider) (*Locker, *Compartment) {
	t.Helper()
	ctx := context.Background()
	l := &Locker{
		ClientID:        "box-1",
		Address:         "Bulevardul Unirii 1, Bucuresti",
		Latitude:        44.43,
		Longitude:       26.10,
		Status:          LockerStatusActive,
		Approved:        true,
		Secret:          "s3cret",
		SecretRotatedAt: t0,
	}
	require.NoError(t, p.CreateLocker(ctx, l))

	comps := []Compartment{{DeviceRef: 1, Size: 15, Temperature: 8}}
	require.NoError(t, p.UpsertCompartments(ctx, l.ID, comps))
	return l, &comps[0]
}

func seedUser(t *testing.T, p *SQLiteProvider) *User {
	t.Helper()
	u := &User{Phone: "+40700000000"}
	require.NoError(t, p.CreateUser(context.Background(), u))
	return u
}

func pendingAt(u *User, l *Locker, c *Compartment, start time.Time, now time.Time) *Reservation {
	exp := now.Add(15 * time.Minute)
	return &Reservation{
		UserID:           u.ID,
		BakeryID:         1,
		LockerID:         l.ID,
		CompartmentID:    c.ID,
		Status:           StatusPending,
		ReservationStart: start,
		ReservationEnd:   start.Add(30 * time.Hour),
		DeliveryTime:     start.Add(3 * time.Hour),
		ExpiresAt:        &exp,
		CreatedAt:        now,
	}
}

func TestMigrations(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	v, err := p.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// second run is a no-op
	require.NoError(t, p.Migrate(ctx, -1))

	require.NoError(t, p.Migrate(ctx, 0))
	v, err = p.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestLockerVersionConflict(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, _ := seedLocker(t, p)

	a, err := p.GetLocker(ctx, l.ID)
	require.NoError(t, err)
	b, err := p.GetLocker(ctx, l.ID)
	require.NoError(t, err)

	a.Status = LockerStatusInactive
	require.NoError(t, p.UpdateLocker(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Address = "elsewhere"
	assert.ErrorIs(t, p.UpdateLocker(ctx, b), ErrVersionConflict)

	_, err = p.GetLocker(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	byClient, err := p.GetLockerByClientID(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, LockerStatusInactive, byClient.Status)
	assert.True(t, byClient.Approved)
}

func TestUpsertCompartmentsKeepsLifecycleFields(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)

	c.Status = CompartmentBusy
	c.Condition = ConditionDirty
	require.NoError(t, p.UpdateCompartment(ctx, c))

	again := []Compartment{{DeviceRef: 1, Size: 20, Temperature: 8, Status: CompartmentFree, Condition: ConditionGood}, {DeviceRef: 2, Size: 10, Temperature: 4}}
	require.NoError(t, p.UpsertCompartments(ctx, l.ID, again))

	list, err := p.ListCompartments(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 20, list[0].Size)
	assert.Equal(t, CompartmentBusy, list[0].Status)
	assert.Equal(t, ConditionDirty, list[0].Condition)
	assert.Equal(t, CompartmentFree, list[1].Status)
	assert.Equal(t, ConditionGood, list[1].Condition)
}

func TestReservationOverlapTrigger(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)
	u := seedUser(t, p)

	first := pendingAt(u, l, c, t0, t0)
	require.NoError(t, p.InsertReservation(ctx, first))

	clash := pendingAt(u, l, c, t0.Add(5*time.Hour), t0)
	err := p.InsertReservation(ctx, clash)
	assert.ErrorIs(t, err, ErrOverlap)

	// [start, end) windows that only touch do not overlap
	adjacent := pendingAt(u, l, c, first.ReservationEnd, t0)
	require.NoError(t, p.InsertReservation(ctx, adjacent))

	// once the first hold has expired it no longer blocks
	later := t0.Add(16 * time.Minute)
	retry := pendingAt(u, l, c, t0.Add(5*time.Hour), later)
	retry.ReservationEnd = first.ReservationEnd
	require.NoError(t, p.InsertReservation(ctx, retry))

	// a confirmed reservation blocks regardless of time
	retry.Status = StatusConfirmed
	retry.ExpiresAt = nil
	retry.UpdatedAt = later
	require.NoError(t, p.UpdateReservation(ctx, retry))

	blocked := pendingAt(u, l, c, t0.Add(6*time.Hour), t0.Add(48*time.Hour))
	blocked.ReservationEnd = t0.Add(7 * time.Hour)
	assert.ErrorIs(t, p.InsertReservation(ctx, blocked), ErrOverlap)
}

func TestConcurrentInsertsOnlyOneWins(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)
	u := seedUser(t, p)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		overlaps int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := pendingAt(u, l, c, t0.Add(time.Duration(i)*time.Minute), t0)
			err := p.InsertReservation(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrOverlap):
				overlaps++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, overlaps)
}

func TestOccupiedAndExpiredHolds(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)
	u := seedUser(t, p)

	r := pendingAt(u, l, c, t0, t0)
	require.NoError(t, p.InsertReservation(ctx, r))

	occ, err := p.OccupiedCompartments(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, occ[c.ID])

	occ, err = p.OccupiedCompartments(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour), t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, occ[c.ID])

	n, err := p.DeleteExpiredHolds(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = p.DeleteExpiredHolds(ctx, t0.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = p.GetReservation(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateReservationAndCompartmentIsAtomic(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)
	u := seedUser(t, p)

	r := pendingAt(u, l, c, t0, t0)
	require.NoError(t, p.InsertReservation(ctx, r))

	stale := *c
	stale.Version = 99
	r.Status = StatusConfirmed
	stale.Status = CompartmentBusy
	err := p.UpdateReservationAndCompartment(ctx, r, &stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := p.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	stored.Status = StatusConfirmed
	comp, err := p.GetCompartment(ctx, c.ID)
	require.NoError(t, err)
	comp.Status = CompartmentBusy
	require.NoError(t, p.UpdateReservationAndCompartment(ctx, stored, comp))
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, int64(2), comp.Version)
}

func TestUserPhoneUnique(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	seedUser(t, p)

	err := p.CreateUser(ctx, &User{Phone: "+40700000000"})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	u, err := p.GetUserByPhone(ctx, "+40700000000")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
}

func TestListReservationsFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()
	l, c := seedLocker(t, p)
	u := seedUser(t, p)

	a := pendingAt(u, l, c, t0, t0)
	require.NoError(t, p.InsertReservation(ctx, a))
	b := pendingAt(u, l, c, a.ReservationEnd, t0)
	b.BakeryID = 2
	require.NoError(t, p.InsertReservation(ctx, b))

	all, err := p.ListReservations(ctx, ReservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := p.ListReservations(ctx, ReservationFilter{BakeryID: 2, Statuses: []ReservationStatus{StatusPending, StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
	assert.True(t, mine[0].ReservationStart.Equal(a.ReservationEnd))
}

func TestNonces(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.CreateNonce(ctx, "n1", t0.Add(time.Minute)))
	assert.ErrorIs(t, p.CreateNonce(ctx, "n1", t0.Add(time.Minute)), ErrUniqueViolation)

	ok, err := p.ExistsNonce(ctx, "n1", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ExistsNonce(ctx, "n1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.ExpireNonces(ctx, t0.Add(time.Minute)))
	require.NoError(t, p.CreateNonce(ctx, "n1", t0.Add(2*time.Minute)))
}
