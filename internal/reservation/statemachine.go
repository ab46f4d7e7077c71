package reservation

import (
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

type Event string

const (
	EventConfirm          Event = "confirm"
	EventStartPassed      Event = "start_passed"
	EventScan             Event = "scan"
	EventEndPassed        Event = "end_passed"
	EventPickupClosing    Event = "pickup_closing"
	EventLockerDown       Event = "locker_down"
	EventCompartmentUnfit Event = "compartment_unfit"
	EventNoReplacement    Event = "no_replacement"
)

// transitions lists every allowed move. Anything missing is rejected, which
// makes completed, expired, canceled and waiting_cleaning terminal.
var transitions = map[storage.ReservationStatus]map[Event]storage.ReservationStatus{
	storage.StatusPending: {
		EventConfirm:       storage.StatusConfirmed,
		EventNoReplacement: storage.StatusCanceled,
	},
	storage.StatusConfirmed: {
		EventStartPassed:      storage.StatusWaitingBakeryDropOff,
		EventEndPassed:        storage.StatusExpired,
		EventLockerDown:       storage.StatusCanceled,
		EventCompartmentUnfit: storage.StatusWaitingCleaning,
		EventNoReplacement:    storage.StatusCanceled,
	},
	storage.StatusWaitingBakeryDropOff: {
		EventScan:             storage.StatusPickupOrder,
		EventEndPassed:        storage.StatusExpired,
		EventLockerDown:       storage.StatusWaitingCleaning,
		EventCompartmentUnfit: storage.StatusWaitingCleaning,
		EventNoReplacement:    storage.StatusCanceled,
	},
	storage.StatusPickupOrder: {
		EventScan:             storage.StatusCompleted,
		EventPickupClosing:    storage.StatusWaitingCleaning,
		EventLockerDown:       storage.StatusWaitingCleaning,
		EventCompartmentUnfit: storage.StatusWaitingCleaning,
	},
}

// Next returns the status a reservation in from moves to on ev, or an
// *utils.InvalidStateError carrying from.
func Next(from storage.ReservationStatus, ev Event) (storage.ReservationStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, &utils.InvalidStateError{Op: string(ev), Status: string(from)}
}

// Terminal reports whether no event can move a reservation out of s.
func Terminal(s storage.ReservationStatus) bool {
	return len(transitions[s]) == 0
}

// stage orders statuses along the lifecycle. Every transition goes to a
// strictly higher stage.
func stage(s storage.ReservationStatus) int {
	switch s {
	case storage.StatusPending:
		return 0
	case storage.StatusConfirmed:
		return 1
	case storage.StatusWaitingBakeryDropOff:
		return 2
	case storage.StatusPickupOrder:
		return 3
	default:
		return 4
	}
}
