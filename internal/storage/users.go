package storage

import (
	"context"
	"fmt"
	"time"
)

// CreateUser inserts a recipient. A phone that already exists yields
// ErrUniqueViolation so callers can re-read the winning row.
func (p *SQLProvider) CreateUser(ctx context.Context, u *User) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	u.CreatedAt = ts(time.Now())
	res, err := p.db.ExecContext(ctx, `INSERT INTO users (phone, created_at) VALUES (?, ?)`, u.Phone, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", p.mapErr(err))
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (p *SQLProvider) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var u User
	if err := p.db.GetContext(ctx, &u, `SELECT id, phone, created_at FROM users WHERE phone = ?`, phone); err != nil {
		return nil, p.notFound(err, "get user")
	}
	return &u, nil
}

const bakeryColumns = `id, name, email, password_hash, created_at`

func (p *SQLProvider) CreateBakery(ctx context.Context, b *Bakery) error {
	if p.db == nil {
		return ErrNotInitialized
	}
	b.CreatedAt = ts(time.Now())
	res, err := p.db.ExecContext(ctx, `INSERT INTO bakeries (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		b.Name, b.Email, b.PasswordHash, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bakery: %w", p.mapErr(err))
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (p *SQLProvider) GetBakery(ctx context.Context, id int64) (*Bakery, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var b Bakery
	if err := p.db.GetContext(ctx, &b, `SELECT `+bakeryColumns+` FROM bakeries WHERE id = ?`, id); err != nil {
		return nil, p.notFound(err, "get bakery")
	}
	return &b, nil
}

func (p *SQLProvider) GetBakeryByEmail(ctx context.Context, email string) (*Bakery, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var b Bakery
	if err := p.db.GetContext(ctx, &b, `SELECT `+bakeryColumns+` FROM bakeries WHERE email = ?`, email); err != nil {
		return nil, p.notFound(err, "get bakery by email")
	}
	return &b, nil
}

func (p *SQLProvider) ListBakeries(ctx context.Context) ([]Bakery, error) {
	if p.db == nil {
		return nil, ErrNotInitialized
	}
	var out []Bakery
	if err := p.db.SelectContext(ctx, &out, `SELECT `+bakeryColumns+` FROM bakeries ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list bakeries: %w", err)
	}
	return out, nil
}
