package reservation

import (
	"context"
	"errors"
	"time"

	"easybox-network/internal/device"
	"easybox-network/internal/metrics"
	"easybox-network/internal/storage"
)

const (
	// health checks start this long before the window opens
	healthLead = time.Hour
	// pickups close this long before the window ends
	pickupClose = 3 * time.Hour
)

// Evaluate picks the event the sweep should apply to r at now, first match
// wins: expiry, locker and compartment health, start of the window, closing
// of the pickup period. The second result is false when nothing is due.
func Evaluate(r *storage.Reservation, locker *storage.Locker, comp *storage.Compartment, now time.Time) (Event, bool) {
	switch r.Status {
	case storage.StatusConfirmed, storage.StatusWaitingBakeryDropOff:
		if !r.ReservationEnd.After(now) {
			return EventEndPassed, true
		}
	}

	switch r.Status {
	case storage.StatusConfirmed, storage.StatusWaitingBakeryDropOff, storage.StatusPickupOrder:
		if !now.Before(r.ReservationStart.Add(-healthLead)) && now.Before(r.ReservationEnd) {
			if locker == nil || !locker.Active() {
				return EventLockerDown, true
			}
			if comp != nil && !comp.Condition.Usable() {
				return EventCompartmentUnfit, true
			}
		}
	}

	if r.Status == storage.StatusConfirmed && !r.ReservationStart.After(now) {
		return EventStartPassed, true
	}
	if r.Status == storage.StatusPickupOrder && !r.ReservationEnd.Add(-pickupClose).After(now) {
		return EventPickupClosing, true
	}
	return "", false
}

type SweepReport struct {
	Checked     int                               `json:"checked"`
	Transitions map[storage.ReservationStatus]int `json:"transitions"`
	Conflicts   int                               `json:"conflicts"`
	Errors      int                               `json:"errors"`
}

// Sweep walks every reservation in an active status and applies the
// transitions due at the current time. Failures on one reservation are
// logged and counted; the rest are still processed.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	list, err := e.store.ListReservations(ctx, storage.ReservationFilter{Statuses: storage.BlockingStatuses})
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	report := &SweepReport{Transitions: map[storage.ReservationStatus]int{}}
	lockers := map[int64]*storage.Locker{}

	for i := range list {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		r := &list[i]
		report.Checked++

		locker, ok := lockers[r.LockerID]
		if !ok {
			locker, err = e.store.GetLocker(ctx, r.LockerID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				e.sweepFailed(report, r, err)
				continue
			}
			lockers[r.LockerID] = locker
		}
		comp, err := e.store.GetCompartment(ctx, r.CompartmentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.sweepFailed(report, r, err)
			continue
		}

		ev, due := Evaluate(r, locker, comp, now)
		if !due {
			continue
		}
		from := r.Status
		next, err := Next(from, ev)
		if err != nil {
			e.sweepFailed(report, r, err)
			continue
		}

		r.Status = next
		r.UpdatedAt = now
		if ev == EventEndPassed && comp != nil && comp.Status == storage.CompartmentBusy {
			comp.Status = storage.CompartmentFree
			err = e.store.UpdateReservationAndCompartment(ctx, r, comp)
		} else {
			err = e.store.UpdateReservation(ctx, r)
		}
		if errors.Is(err, storage.ErrVersionConflict) {
			// changed under us, the next tick sees the new state
			report.Conflicts++
			metrics.SweepSkippedTotal.WithLabelValues("version_conflict").Inc()
			continue
		}
		if err != nil {
			e.sweepFailed(report, r, err)
			continue
		}

		report.Transitions[next]++
		metrics.SweepTransitionsTotal.WithLabelValues(string(next)).Inc()
		e.logger.Info("Reservation advanced", "reservation", r.ID, "event", ev, "from", from, "to", next)

		if next == storage.StatusWaitingCleaning && comp != nil {
			e.push(ctx, locker, device.CleanCommand(comp.DeviceRef))
		}
		if ev == EventLockerDown || ev == EventCompartmentUnfit {
			e.notify(ctx, r, from)
		}
	}
	return report, nil
}

func (e *Engine) sweepFailed(report *SweepReport, r *storage.Reservation, err error) {
	report.Errors++
	metrics.SweepSkippedTotal.WithLabelValues("error").Inc()
	e.logger.Error("Sweep failed for reservation", "reservation", r.ID, "status", r.Status, "error", err)
}

// ExpireHolds deletes pending reservations whose hold ran out.
func (e *Engine) ExpireHolds(ctx context.Context) (int64, error) {
	n, err := e.store.DeleteExpiredHolds(ctx, e.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ExpiredHoldsDeletedTotal.Add(float64(n))
		e.logger.Info("Expired holds removed", "count", n)
	}
	return n, nil
}
