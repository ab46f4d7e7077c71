package storage

import (
	"context"
	"fmt"
	"time"
)

const lockerColumns = `id, client_id, address, latitude, longitude, status, approved, approved_by,
	secret, secret_rotated_at, secret_delivered, created_at, updated_at, version`

func (p *SQLProvider) CreateLocker(ctx context.Context, l *Locker) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	now := ts(time.Now())
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	l.SecretRotatedAt = ts(l.SecretRotatedAt)
	l.Version = 1

	res, err := p.db.ExecContext(ctx, `INSERT INTO lockers
		(client_id, address, latitude, longitude, status, approved, approved_by,
		 secret, secret_rotated_at, secret_delivered, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ClientID, l.Address, l.Latitude, l.Longitude, l.Status, l.Approved, l.ApprovedBy,
		l.Secret, l.SecretRotatedAt, l.SecretDelivered, ts(l.CreatedAt), l.UpdatedAt, l.Version)
	if err != nil {
		return fmt.Errorf("insert locker: %w", p.mapErr(err))
	}
	l.ID, err = res.LastInsertId()
	return err
}

func (p *SQLProvider) GetLocker(ctx context.Context, id int64) (*Locker, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var l Locker
	err := p.db.GetContext(ctx, &l, `SELECT `+lockerColumns+` FROM lockers WHERE id = ?`, id)
	if err != nil {
		return nil, p.notFound(err, "get locker")
	}
	return &l, nil
}

func (p *SQLProvider) GetLockerByClientID(ctx context.Context, clientID string) (*Locker, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var l Locker
	err := p.db.GetContext(ctx, &l, `SELECT `+lockerColumns+` FROM lockers WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, p.notFound(err, "get locker by client id")
	}
	return &l, nil
}

func (p *SQLProvider) ListLockers(ctx context.Context) ([]Locker, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var lockers []Locker
	if err := p.db.SelectContext(ctx, &lockers, `SELECT `+lockerColumns+` FROM lockers ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list lockers: %w", err)
	}
	return lockers, nil
}

// UpdateLocker writes every mutable column, gated on l.Version. On success
// l.Version is advanced to the stored value.
func (p *SQLProvider) UpdateLocker(ctx context.Context, l *Locker) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	now := ts(time.Now())
	res, err := p.db.ExecContext(ctx, `UPDATE lockers SET
		client_id = ?, address = ?, latitude = ?, longitude = ?, status = ?, approved = ?, approved_by = ?,
		secret = ?, secret_rotated_at = ?, secret_delivered = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		l.ClientID, l.Address, l.Latitude, l.Longitude, l.Status, l.Approved, l.ApprovedBy,
		l.Secret, ts(l.SecretRotatedAt), l.SecretDelivered, now, l.ID, l.Version)
	if err != nil {
		return fmt.Errorf("update locker: %w", p.mapErr(err))
	}
	if err := casResult(res); err != nil {
		return err
	}
	l.UpdatedAt = now
	l.Version++
	return nil
}
