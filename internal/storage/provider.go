package storage

import (
	"context"
	"log/slog"
	"time"

	"easybox-network/internal/config"
)

type Provider interface {
	Close() error
	GetSchemaVersion(ctx context.Context) (int, error)
	Migrate(ctx context.Context, target int) error

	// Locker methods
	CreateLocker(ctx context.Context, locker *Locker) error
	GetLocker(ctx context.Context, id int64) (*Locker, error)
	GetLockerByClientID(ctx context.Context, clientID string) (*Locker, error)
	ListLockers(ctx context.Context) ([]Locker, error)
	UpdateLocker(ctx context.Context, locker *Locker) error

	// Compartment methods
	GetCompartment(ctx context.Context, id int64) (*Compartment, error)
	ListCompartments(ctx context.Context, lockerID int64) ([]Compartment, error)
	UpdateCompartment(ctx context.Context, compartment *Compartment) error
	UpsertCompartments(ctx context.Context, lockerID int64, compartments []Compartment) error

	// Reservation methods
	InsertReservation(ctx context.Context, reservation *Reservation) error
	GetReservation(ctx context.Context, id int64) (*Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	UpdateReservation(ctx context.Context, reservation *Reservation) error
	UpdateReservationAndCompartment(ctx context.Context, reservation *Reservation, compartment *Compartment) error
	OccupiedCompartments(ctx context.Context, start, end, now time.Time) (map[int64]bool, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error)

	// User and bakery methods
	CreateUser(ctx context.Context, user *User) error
	GetUserByPhone(ctx context.Context, phone string) (*User, error)
	CreateBakery(ctx context.Context, bakery *Bakery) error
	GetBakery(ctx context.Context, id int64) (*Bakery, error)
	GetBakeryByEmail(ctx context.Context, email string) (*Bakery, error)
	ListBakeries(ctx context.Context) ([]Bakery, error)

	// Nonce-related methods
	CreateNonce(ctx context.Context, nonce string, expiresAt time.Time) error
	ExistsNonce(ctx context.Context, nonce string, now time.Time) (bool, error)
	ExpireNonces(ctx context.Context, now time.Time) error
}

// NewProvider opens the configured store and brings its schema up to date.
func NewProvider(ctx context.Context, config *config.Storage) Provider {
	switch {
	case config.SQLite != nil:
		provider, err := NewSQLiteProvider(config)
		if err != nil {
			slog.Error("Failed to open sqlite storage", "error", err, "path", config.SQLite.Path)
			return nil
		}
		if err := provider.Migrate(ctx, -1); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			provider.Close()
			return nil
		}
		return provider

	default:
		slog.Error("Unsupported storage configuration", "config", config)
	}

	return nil
}
