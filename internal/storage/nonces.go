package storage

import (
	"context"
	"fmt"
	"time"
)

func (p *SQLProvider) CreateNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO nonces (nonce, expires_at) VALUES (?, ?)`, nonce, ts(expiresAt))
	if err != nil {
		return fmt.Errorf("insert nonce: %w", p.mapErr(err))
	}
	return nil
}

// ExistsNonce reports whether nonce is stored and still valid at now.
func (p *SQLProvider) ExistsNonce(ctx context.Context, nonce string, now time.Time) (bool, error) {
	if p.db == nil {
		return false, ErrNotInitialized
	}
	var n int
	err := p.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM nonces WHERE nonce = ? AND expires_at > ?`, nonce, ts(now))
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return n > 0, nil
}

func (p *SQLProvider) ExpireNonces(ctx context.Context, now time.Time) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at <= ?`, ts(now)); err != nil {
		return fmt.Errorf("expire nonces: %w", err)
	}
	return nil
}
