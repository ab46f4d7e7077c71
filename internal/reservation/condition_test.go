package reservation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"easybox-network/internal/device"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.comps[0].ID

	_, err := f.engine.ReportCondition(ctx, id, "sticky")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)

	_, err = f.engine.ReportCondition(ctx, 999, "dirty")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	c, err := f.engine.ReportCondition(ctx, id, "BROKEN")
	require.NoError(t, err)
	assert.Equal(t, storage.ConditionBroken, c.Condition)
	assert.Equal(t, storage.ConditionBroken, f.compartment(t, id).Condition)
}

func TestReevaluateMovesThenCancels(t *testing.T) {
	f := newFixture(t,
		storage.Compartment{DeviceRef: 1, Size: 15, Temperature: 8},
		storage.Compartment{DeviceRef: 2, Size: 10, Temperature: 8}, // too small
		storage.Compartment{DeviceRef: 3, Size: 20, Temperature: 4}, // wrong temperature
		storage.Compartment{DeviceRef: 4, Size: 25, Temperature: 8},
	)
	ctx := context.Background()

	size := 15
	r, err := f.engine.Hold(ctx, HoldRequest{Phone: "+40700000001", LockerID: f.locker.ID, DeliveryTime: delivery, MinSize: &size})
	require.NoError(t, err)
	require.Equal(t, f.comps[0].ID, r.CompartmentID)
	r, err = f.engine.Confirm(ctx, r.ID)
	require.NoError(t, err)

	_, err = f.engine.Reevaluate(ctx, r.ID, f.comps[1].ID, "dirty")
	assert.ErrorIs(t, err, utils.ErrInvalidFormat)

	moved, err := f.engine.Reevaluate(ctx, r.ID, f.comps[0].ID, "dirty")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, moved.Status)
	assert.Equal(t, f.comps[3].ID, moved.CompartmentID)
	assert.Equal(t, storage.ConditionDirty, f.compartment(t, f.comps[0].ID).Condition)
	assert.Contains(t, f.devices.sent(), "L1 reserve:4")

	canceled, err := f.engine.Reevaluate(ctx, r.ID, f.comps[3].ID, "broken")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCanceled, canceled.Status)
	assert.Equal(t, []string{fmt.Sprintf("%d confirmed->canceled", r.ID)}, f.notifier.changes)

	_, err = f.engine.Reevaluate(ctx, r.ID, f.comps[3].ID, "broken")
	assert.ErrorIs(t, err, utils.ErrInvalidState)
}

func TestReevaluateSkipsOccupiedCompartments(t *testing.T) {
	f := newFixture(t,
		storage.Compartment{DeviceRef: 1, Size: 15, Temperature: 8},
		storage.Compartment{DeviceRef: 2, Size: 15, Temperature: 8},
	)
	ctx := context.Background()

	a := f.hold(t, "+40700000001")
	b := f.hold(t, "+40700000002")
	require.NotEqual(t, a.CompartmentID, b.CompartmentID)

	r, err := f.engine.Reevaluate(ctx, a.ID, a.CompartmentID, "dirty")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCanceled, r.Status)
}

func TestCleanAckReturnsCompartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.confirmed(t)

	f.clock.Set(r.ReservationStart)
	_, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	_, err = f.engine.ApplyScan(ctx, r.QRToken)
	require.NoError(t, err)

	// the order is still inside
	_, err = f.engine.MarkClean(ctx, r.CompartmentID)
	assert.ErrorIs(t, err, utils.ErrConflict)

	f.clock.Set(r.ReservationEnd.Add(-3 * time.Hour))
	report, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Transitions[storage.StatusWaitingCleaning])
	assert.Contains(t, f.devices.sent(), "L1 clean:1")
	assert.Equal(t, storage.CompartmentBusy, f.compartment(t, r.CompartmentID).Status)

	next := HoldRequest{Phone: "+40700000002", LockerID: f.locker.ID, DeliveryTime: delivery.Add(48 * time.Hour)}
	_, err = f.engine.Hold(ctx, next)
	assert.ErrorIs(t, err, utils.ErrConflict)

	ack := f.engine.AckHandler()
	ack(ctx, f.locker, device.Ack{Command: device.AckClean, CompartmentRef: 1})
	ack(ctx, f.locker, device.Ack{Command: device.AckReserve, CompartmentRef: 1, OK: true})
	ack(ctx, f.locker, device.Ack{Command: device.AckClean, CompartmentRef: 9, OK: true})
	assert.Equal(t, storage.CompartmentBusy, f.compartment(t, r.CompartmentID).Status)

	ack(ctx, f.locker, device.Ack{Command: device.AckClean, CompartmentRef: 1, OK: true})
	c := f.compartment(t, r.CompartmentID)
	assert.Equal(t, storage.CompartmentFree, c.Status)
	assert.Equal(t, storage.ConditionClean, c.Condition)

	stored, err := f.engine.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWaitingCleaning, stored.Status)

	again, err := f.engine.Hold(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, r.CompartmentID, again.CompartmentID)
}

func TestMarkFreeKeepsCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.comps[0].ID

	_, err := f.engine.ReportCondition(ctx, id, "dirty")
	require.NoError(t, err)
	c := f.compartment(t, id)
	c.Status = storage.CompartmentBusy
	require.NoError(t, f.store.UpdateCompartment(ctx, c))

	freed, err := f.engine.MarkFree(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.CompartmentFree, freed.Status)
	assert.Equal(t, storage.ConditionDirty, freed.Condition)

	_, err = f.engine.Hold(ctx, HoldRequest{Phone: "+40700000001", LockerID: f.locker.ID, DeliveryTime: delivery})
	assert.ErrorIs(t, err, utils.ErrConflict)

	cleaned, err := f.engine.MarkClean(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.ConditionClean, cleaned.Condition)
	f.hold(t, "+40700000001")

	_, err = f.engine.MarkClean(ctx, 999)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
