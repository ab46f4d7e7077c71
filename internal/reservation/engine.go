// Package reservation owns the lifecycle of a compartment booking: the hold,
// its confirmation, the time and scan driven transitions and the health
// checks that cancel or divert bookings whose locker can no longer serve them.
package reservation

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/config"
	"easybox-network/internal/device"
	"easybox-network/internal/metrics"
	"easybox-network/internal/search"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

// Commander delivers a command to a locker.
type Commander interface {
	PushCommand(ctx context.Context, clientID, command string) error
}

// Notifier is told about reservations the system canceled or diverted on
// its own.
type Notifier interface {
	ReservationChanged(ctx context.Context, r *storage.Reservation, from storage.ReservationStatus) error
}

type Engine struct {
	store    storage.Provider
	searcher *search.Searcher
	clock    clock.Clock
	cfg      config.Reservation

	devices  Commander
	notifier Notifier

	logger *slog.Logger
}

type Option func(*Engine)

func WithCommander(c Commander) Option {
	return func(e *Engine) { e.devices = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(store storage.Provider, searcher *search.Searcher, clk clock.Clock, cfg config.Reservation, opts ...Option) *Engine {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 15 * time.Minute
	}
	if cfg.WindowBefore <= 0 {
		cfg.WindowBefore = 3 * time.Hour
	}
	if cfg.WindowAfter <= 0 {
		cfg.WindowAfter = 27 * time.Hour
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = config.QR_IMAGE_SIZE
	}
	e := &Engine{
		store:    store,
		searcher: searcher,
		clock:    clk,
		cfg:      cfg,
		logger:   slog.With("component", "reservation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type HoldRequest struct {
	Phone        string    `json:"phone"`
	BakeryID     int64     `json:"-"`
	LockerID     int64     `json:"lockerId,omitempty"`
	Address      string    `json:"address,omitempty"`
	DeliveryTime time.Time `json:"deliveryTime"`
	MinTemp      *int      `json:"minTemp,omitempty"`
	MinSize      *int      `json:"minSize,omitempty"`
}

// Window returns the span a delivery at t occupies its compartment.
func (e *Engine) Window(t time.Time) (time.Time, time.Time) {
	return t.Add(-e.cfg.WindowBefore), t.Add(e.cfg.WindowAfter)
}

// Hold books the best compartment for req as a pending reservation that
// lapses after the configured hold TTL unless confirmed.
func (e *Engine) Hold(ctx context.Context, req HoldRequest) (*storage.Reservation, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		return nil, &utils.InvalidFormatError{Reason: "phone is required"}
	}
	if req.DeliveryTime.IsZero() {
		return nil, &utils.InvalidFormatError{Reason: "delivery time is required"}
	}

	user, err := e.userByPhone(ctx, req.Phone)
	if err != nil {
		metrics.HoldsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	start, end := e.Window(req.DeliveryTime)
	found, err := e.searcher.FindAvailable(ctx, search.Query{
		Address:  req.Address,
		LockerID: req.LockerID,
		Start:    start,
		End:      end,
		MinTemp:  req.MinTemp,
		MinSize:  req.MinSize,
	})
	if err != nil {
		metrics.HoldsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if found.Empty() {
		metrics.HoldsTotal.WithLabelValues("conflict").Inc()
		return nil, &utils.ConflictError{Reason: "no compartment available for the requested window"}
	}

	now := e.clock.Now()
	expires := now.Add(e.cfg.HoldTTL)
	r := &storage.Reservation{
		UserID:           user.ID,
		BakeryID:         req.BakeryID,
		LockerID:         found.Recommended.Locker.ID,
		CompartmentID:    found.Recommended.Compartment.ID,
		Status:           storage.StatusPending,
		ReservationStart: start,
		ReservationEnd:   end,
		DeliveryTime:     req.DeliveryTime,
		ExpiresAt:        &expires,
		CreatedAt:        now,
	}
	if err := e.store.InsertReservation(ctx, r); err != nil {
		if errors.Is(err, storage.ErrOverlap) {
			metrics.HoldsTotal.WithLabelValues("conflict").Inc()
			return nil, &utils.ConflictError{Reason: "compartment was booked concurrently", Err: err}
		}
		metrics.HoldsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.HoldsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("Compartment held", "reservation", r.ID, "locker", r.LockerID,
		"compartment", r.CompartmentID, "expires_at", expires)
	return r, nil
}

func (e *Engine) userByPhone(ctx context.Context, phone string) (*storage.User, error) {
	u, err := e.store.GetUserByPhone(ctx, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	u = &storage.User{Phone: phone}
	err = e.store.CreateUser(ctx, u)
	if errors.Is(err, storage.ErrUniqueViolation) {
		// someone else created it first
		return e.store.GetUserByPhone(ctx, phone)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Get loads a reservation, reporting a missing one as *utils.NotFoundError.
func (e *Engine) Get(ctx context.Context, id int64) (*storage.Reservation, error) {
	r, err := e.store.GetReservation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "reservation", ID: id}
	}
	return r, err
}

// Confirm turns a live hold into a booking and issues its QR code. A
// reservation that is no longer pending is returned as is.
func (e *Engine) Confirm(ctx context.Context, id int64) (*storage.Reservation, error) {
	r, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != storage.StatusPending {
		return r, nil
	}

	now := e.clock.Now()
	if !r.LiveHold(now) {
		return nil, &utils.ConflictError{Reason: "hold has expired"}
	}

	locker, err := e.store.GetLocker(ctx, r.LockerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "locker", ID: r.LockerID}
	}
	if err != nil {
		return nil, err
	}
	if !locker.Active() {
		return nil, &utils.ConflictError{Reason: "locker is not active"}
	}

	next, err := Next(r.Status, EventConfirm)
	if err != nil {
		return nil, err
	}
	token, err := NewToken(r.ID)
	if err != nil {
		return nil, &utils.ConfigurationError{Err: err}
	}
	qr, err := RenderQR(token, e.cfg.QRSize)
	if err != nil {
		return nil, err
	}

	r.Status = next
	r.ExpiresAt = nil
	r.QRToken = token
	r.QRCodeData = qr
	r.UpdatedAt = now
	if err := e.store.UpdateReservation(ctx, r); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrOverlap) {
			return nil, &utils.ConflictError{Reason: "reservation changed concurrently", Err: err}
		}
		return nil, err
	}
	metrics.ConfirmationsTotal.Inc()
	e.logger.Info("Reservation confirmed", "reservation", r.ID, "locker", r.LockerID)

	if comp, err := e.store.GetCompartment(ctx, r.CompartmentID); err != nil {
		e.logger.Warn("Cannot load compartment for reserve command", "reservation", r.ID, "error", err)
	} else {
		e.push(ctx, locker, device.ReserveCommand(comp.DeviceRef))
	}
	return r, nil
}

type ScanOutcome struct {
	ReservationID  int64                     `json:"reservationId"`
	CompartmentID  int64                     `json:"compartmentId"`
	CompartmentRef int64                     `json:"compartmentRef"`
	Status         storage.ReservationStatus `json:"status"`
}

// ApplyScan moves the reservation identified by a scanned QR code one step
// further: drop-off at the locker, then pickup.
func (e *Engine) ApplyScan(ctx context.Context, raw string) (*ScanOutcome, error) {
	return e.ApplyScanAt(ctx, 0, raw)
}

// ApplyScanAt is ApplyScan for a code read by a specific locker. Codes of
// other lockers are refused. lockerID 0 skips that check.
func (e *Engine) ApplyScanAt(ctx context.Context, lockerID int64, raw string) (*ScanOutcome, error) {
	out, err := e.applyScan(ctx, lockerID, strings.TrimSpace(raw))
	switch {
	case err == nil:
		metrics.ScansTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, utils.ErrInvalidState):
		metrics.ScansTotal.WithLabelValues("invalid_state").Inc()
	case errors.Is(err, utils.ErrInvalidFormat), errors.Is(err, utils.ErrNotFound):
		metrics.ScansTotal.WithLabelValues("rejected").Inc()
	default:
		metrics.ScansTotal.WithLabelValues("error").Inc()
	}
	return out, err
}

func (e *Engine) applyScan(ctx context.Context, lockerID int64, raw string) (*ScanOutcome, error) {
	id, _, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}
	r, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.QRToken == "" || subtle.ConstantTimeCompare([]byte(r.QRToken), []byte(raw)) != 1 {
		return nil, &utils.InvalidFormatError{Input: raw, Reason: "code does not belong to this reservation"}
	}
	if lockerID != 0 && r.LockerID != lockerID {
		return nil, &utils.InvalidFormatError{Input: raw, Reason: "code belongs to another locker"}
	}

	next, err := Next(r.Status, EventScan)
	if err != nil {
		return nil, err
	}

	comp, err := e.store.GetCompartment(ctx, r.CompartmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &utils.NotFoundError{Kind: "compartment", ID: r.CompartmentID}
	}
	if err != nil {
		return nil, err
	}
	if r.Status == storage.StatusWaitingBakeryDropOff {
		comp.Status = storage.CompartmentBusy
	} else {
		comp.Status = storage.CompartmentFree
	}

	from := r.Status
	r.Status = next
	r.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateReservationAndCompartment(ctx, r, comp); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, &utils.ConflictError{Reason: "reservation changed concurrently", Err: err}
		}
		return nil, err
	}

	e.logger.Info("Scan applied", "reservation", r.ID, "from", from, "to", next, "compartment", comp.ID)
	return &ScanOutcome{
		ReservationID:  r.ID,
		CompartmentID:  comp.ID,
		CompartmentRef: comp.DeviceRef,
		Status:         next,
	}, nil
}

func (e *Engine) push(ctx context.Context, l *storage.Locker, command string) {
	if e.devices == nil || l == nil {
		return
	}
	if err := e.devices.PushCommand(ctx, l.ClientID, command); err != nil {
		e.logger.Warn("Device command failed", "locker", l.ClientID, "command", command, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, r *storage.Reservation, from storage.ReservationStatus) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.ReservationChanged(ctx, r, from); err != nil {
		e.logger.Warn("Notification failed", "reservation", r.ID, "error", err)
	}
}
