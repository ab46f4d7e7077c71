package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const reservationColumns = `id, user_id, bakery_id, locker_id, compartment_id, status,
	reservation_start, reservation_end, delivery_time, expires_at, qr_code_data, qr_token,
	created_at, updated_at, version`

// InsertReservation stores a new reservation. r.CreatedAt is the writer's
// notion of "now" and decides which pending holds still count as live; it
// defaults to the wall clock. A window clash surfaces as ErrOverlap.
func (p *SQLProvider) InsertReservation(ctx context.Context, r *Reservation) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = ts(r.CreatedAt)
	r.UpdatedAt = r.CreatedAt
	r.ReservationStart = ts(r.ReservationStart)
	r.ReservationEnd = ts(r.ReservationEnd)
	r.DeliveryTime = ts(r.DeliveryTime)
	r.ExpiresAt = tsPtr(r.ExpiresAt)
	r.Version = 1

	res, err := p.db.ExecContext(ctx, `INSERT INTO reservations
		(user_id, bakery_id, locker_id, compartment_id, status, reservation_start, reservation_end,
		 delivery_time, expires_at, qr_code_data, qr_token, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.BakeryID, r.LockerID, r.CompartmentID, r.Status, r.ReservationStart, r.ReservationEnd,
		r.DeliveryTime, r.ExpiresAt, r.QRCodeData, r.QRToken, r.CreatedAt, r.UpdatedAt, r.Version)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", p.mapErr(err))
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (p *SQLProvider) GetReservation(ctx context.Context, id int64) (*Reservation, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var r Reservation
	err := p.db.GetContext(ctx, &r, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return nil, p.notFound(err, "get reservation")
	}
	return &r, nil
}

func (p *SQLProvider) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN (?)")
		args = append(args, filter.Statuses)
	}
	if filter.BakeryID != 0 {
		where = append(where, "bakery_id = ?")
		args = append(args, filter.BakeryID)
	}
	if filter.LockerID != 0 {
		where = append(where, "locker_id = ?")
		args = append(args, filter.LockerID)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	var out []Reservation
	if err := p.db.SelectContext(ctx, &out, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

const updateReservationSQL = `UPDATE reservations SET
	compartment_id = ?, status = ?, expires_at = ?, qr_code_data = ?, qr_token = ?,
	updated_at = ?, version = version + 1
	WHERE id = ? AND version = ?`

func reservationUpdateArgs(r *Reservation) []any {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	r.UpdatedAt = ts(r.UpdatedAt)
	r.ExpiresAt = tsPtr(r.ExpiresAt)
	return []any{r.CompartmentID, r.Status, r.ExpiresAt, r.QRCodeData, r.QRToken, r.UpdatedAt, r.ID, r.Version}
}

// UpdateReservation writes the mutable columns gated on r.Version. The
// caller sets r.UpdatedAt to its current time; a compartment move is checked
// against live reservations as of that instant.
func (p *SQLProvider) UpdateReservation(ctx context.Context, r *Reservation) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	res, err := p.db.ExecContext(ctx, updateReservationSQL, reservationUpdateArgs(r)...)
	if err != nil {
		return fmt.Errorf("update reservation: %w", p.mapErr(err))
	}
	if err := casResult(res); err != nil {
		return err
	}
	r.Version++
	return nil
}

// UpdateReservationAndCompartment persists both rows or neither.
func (p *SQLProvider) UpdateReservationAndCompartment(ctx context.Context, r *Reservation, c *Compartment) error {
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, updateReservationSQL, reservationUpdateArgs(r)...)
		if err != nil {
			return fmt.Errorf("update reservation: %w", p.mapErr(err))
		}
		if err := casResult(res); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, updateCompartmentSQL, c.Size, c.Temperature, c.Status, c.Condition, c.ID, c.Version)
		if err != nil {
			return fmt.Errorf("update compartment: %w", p.mapErr(err))
		}
		return casResult(res)
	})
	if err != nil {
		return err
	}
	r.Version++
	c.Version++
	return nil
}

// OccupiedCompartments returns the ids of compartments that have a
// reservation overlapping [start, end) which still occupies them at now.
func (p *SQLProvider) OccupiedCompartments(ctx context.Context, start, end, now time.Time) (map[int64]bool, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	query, args, err := sqlx.In(`SELECT DISTINCT compartment_id FROM reservations
		WHERE reservation_start < ? AND ? < reservation_end
		  AND (status IN (?) OR (status = ? AND expires_at > ?))`,
		ts(end), ts(start), BlockingStatuses, StatusPending, ts(now))
	if err != nil {
		return nil, fmt.Errorf("occupied compartments: %w", err)
	}
	var ids []int64
	if err := p.db.SelectContext(ctx, &ids, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("occupied compartments: %w", err)
	}
	occupied := make(map[int64]bool, len(ids))
	for _, id := range ids {
		occupied[id] = true
	}
	return occupied, nil
}

// DeleteExpiredHolds removes pending reservations whose hold ran out.
func (p *SQLProvider) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	if p.db == nil {
		return 0, ErrNotInitialized
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM reservations WHERE status = ? AND expires_at <= ?`,
		StatusPending, ts(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired holds: %w", err)
	}
	return res.RowsAffected()
}
