package reservation

import (
	"context"
	"errors"

	"easybox-network/internal/device"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

// ScanHandler answers scans reported by lockers over the device channel.
func (e *Engine) ScanHandler() device.ScanFunc {
	return func(ctx context.Context, locker *storage.Locker, code string) device.ScanResult {
		out, err := e.ApplyScanAt(ctx, locker.ID, code)
		if err != nil {
			var stateErr *utils.InvalidStateError
			status := ""
			if errors.As(err, &stateErr) {
				status = stateErr.Status
			}
			e.logger.Info("Scan refused", "locker", locker.ClientID, "error", err)
			return device.ScanFailed(scanReason(err), status)
		}
		return device.ScanOK(out.CompartmentRef, string(out.Status))
	}
}

// AckHandler puts a compartment back in service once its locker reports a
// clean command done. Other acknowledgements only get logged by the channel.
func (e *Engine) AckHandler() device.AckFunc {
	return func(ctx context.Context, locker *storage.Locker, ack device.Ack) {
		if ack.Command != device.AckClean {
			return
		}
		if !ack.OK {
			e.logger.Warn("Locker could not clean compartment", "locker", locker.ClientID, "compartment", ack.CompartmentRef)
			return
		}
		comp, err := e.compartmentByRef(ctx, locker.ID, ack.CompartmentRef)
		if err == nil {
			_, err = e.MarkClean(ctx, comp.ID)
		}
		if err != nil {
			e.logger.Error("Failed to return cleaned compartment", "locker", locker.ClientID,
				"compartment", ack.CompartmentRef, "error", err)
		}
	}
}

// scanReason is the short text shown on the locker display.
func scanReason(err error) string {
	switch {
	case errors.Is(err, utils.ErrInvalidFormat):
		return "invalid code"
	case errors.Is(err, utils.ErrNotFound):
		return "unknown reservation"
	case errors.Is(err, utils.ErrInvalidState):
		return "code cannot be used now"
	case errors.Is(err, utils.ErrConflict):
		return "try again"
	default:
		return "internal error"
	}
}
