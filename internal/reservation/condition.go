package reservation

import (
	"context"
	"errors"
	"sort"
	"strings"

	"easybox-network/internal/device"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

func parseIssue(issue string) (storage.Condition, error) {
	switch c := storage.Condition(strings.ToLower(strings.TrimSpace(issue))); c {
	case storage.ConditionDirty, storage.ConditionBroken:
		return c, nil
	}
	return "", &utils.InvalidFormatError{Input: issue, Reason: "issue must be dirty or broken"}
}

// ReportCondition marks a compartment dirty or broken.
func (e *Engine) ReportCondition(ctx context.Context, compartmentID int64, issue string) (*storage.Compartment, error) {
	cond, err := parseIssue(issue)
	if err != nil {
		return nil, err
	}
	comp, err := e.store.GetCompartment(ctx, compartmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "compartment", ID: compartmentID}
	}
	if err != nil {
		return nil, err
	}
	comp.Condition = cond
	if err := e.store.UpdateCompartment(ctx, comp); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, &utils.ConflictError{Reason: "compartment changed concurrently", Err: err}
		}
		return nil, err
	}
	e.logger.Info("Compartment condition reported", "compartment", comp.ID, "condition", cond)
	return comp, nil
}

// MarkClean returns a compartment to service after cleaning or repair: it
// becomes free and clean.
func (e *Engine) MarkClean(ctx context.Context, compartmentID int64) (*storage.Compartment, error) {
	return e.release(ctx, compartmentID, storage.ConditionClean)
}

// MarkFree frees a compartment and leaves its condition alone, so a dirty or
// broken one stays out of search until it is marked clean.
func (e *Engine) MarkFree(ctx context.Context, compartmentID int64) (*storage.Compartment, error) {
	return e.release(ctx, compartmentID, "")
}

func (e *Engine) release(ctx context.Context, compartmentID int64, cond storage.Condition) (*storage.Compartment, error) {
	comp, err := e.store.GetCompartment(ctx, compartmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "compartment", ID: compartmentID}
	}
	if err != nil {
		return nil, err
	}

	// an order waiting for pickup still sits behind the door
	waiting, err := e.store.ListReservations(ctx, storage.ReservationFilter{
		LockerID: comp.LockerID,
		Statuses: []storage.ReservationStatus{storage.StatusPickupOrder},
	})
	if err != nil {
		return nil, err
	}
	for _, r := range waiting {
		if r.CompartmentID == comp.ID {
			return nil, &utils.ConflictError{Reason: "compartment holds an order waiting for pickup"}
		}
	}

	comp.Status = storage.CompartmentFree
	if cond != "" {
		comp.Condition = cond
	}
	if err := e.store.UpdateCompartment(ctx, comp); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, &utils.ConflictError{Reason: "compartment changed concurrently", Err: err}
		}
		return nil, err
	}
	e.logger.Info("Compartment back in service", "compartment", comp.ID, "condition", comp.Condition)
	return comp, nil
}

// compartmentByRef finds a compartment by the id its locker reports.
func (e *Engine) compartmentByRef(ctx context.Context, lockerID, ref int64) (*storage.Compartment, error) {
	comps, err := e.store.ListCompartments(ctx, lockerID)
	if err != nil {
		return nil, err
	}
	for i := range comps {
		if comps[i].DeviceRef == ref {
			return &comps[i], nil
		}
	}
	return nil, &utils.NotFoundError{Kind: "compartment", ID: ref}
}

// Reevaluate marks the compartment of a reservation as unusable and moves the
// reservation to another free compartment of the same locker. If none is
// left the reservation is canceled.
func (e *Engine) Reevaluate(ctx context.Context, reservationID, compartmentID int64, issue string) (*storage.Reservation, error) {
	if _, err := parseIssue(issue); err != nil {
		return nil, err
	}
	r, err := e.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.CompartmentID != compartmentID {
		return nil, &utils.InvalidFormatError{Reason: "reservation is not assigned to this compartment"}
	}
	switch r.Status {
	case storage.StatusPending, storage.StatusConfirmed, storage.StatusWaitingBakeryDropOff:
	default:
		return nil, &utils.InvalidStateError{Op: "reevaluate", Status: string(r.Status)}
	}

	current, err := e.ReportCondition(ctx, compartmentID, issue)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	replacement, err := e.findReplacement(ctx, r, current)
	if err != nil {
		return nil, err
	}

	from := r.Status
	r.UpdatedAt = now
	if replacement == nil {
		next, err := Next(r.Status, EventNoReplacement)
		if err != nil {
			return nil, err
		}
		r.Status = next
		r.ExpiresAt = nil
	} else {
		r.CompartmentID = replacement.ID
	}
	if err := e.store.UpdateReservation(ctx, r); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrOverlap) {
			return nil, &utils.ConflictError{Reason: "replacement compartment was taken", Err: err}
		}
		return nil, err
	}

	if replacement == nil {
		e.logger.Info("Reservation canceled, no replacement compartment", "reservation", r.ID)
		e.notify(ctx, r, from)
		return r, nil
	}

	e.logger.Info("Reservation moved", "reservation", r.ID, "from_compartment", compartmentID, "to_compartment", replacement.ID)
	if r.Status != storage.StatusPending {
		if locker, err := e.store.GetLocker(ctx, r.LockerID); err == nil {
			e.push(ctx, locker, device.ReserveCommand(replacement.DeviceRef))
		}
	}
	return r, nil
}

// findReplacement returns the smallest usable free compartment of the
// reservation's locker, other than current, that keeps the same temperature,
// is at least as large and is not occupied during the reservation window.
// Nil means there is none.
func (e *Engine) findReplacement(ctx context.Context, r *storage.Reservation, current *storage.Compartment) (*storage.Compartment, error) {
	comps, err := e.store.ListCompartments(ctx, r.LockerID)
	if err != nil {
		return nil, err
	}
	occupied, err := e.store.OccupiedCompartments(ctx, r.ReservationStart, r.ReservationEnd, e.clock.Now())
	if err != nil {
		return nil, err
	}

	sort.SliceStable(comps, func(i, j int) bool {
		if comps[i].Size != comps[j].Size {
			return comps[i].Size < comps[j].Size
		}
		return comps[i].ID < comps[j].ID
	})
	for i := range comps {
		c := &comps[i]
		if c.ID == current.ID || !c.Condition.Usable() || c.Status == storage.CompartmentBusy || occupied[c.ID] {
			continue
		}
		if c.Temperature != current.Temperature || c.Size < current.Size {
			continue
		}
		return c, nil
	}
	return nil, nil
}
