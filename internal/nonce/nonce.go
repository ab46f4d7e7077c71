// Package nonce remembers one-time identifiers, such as the ids of tokens a
// locker signed, until they expire so a replayed message can be refused.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/storage"
)

// Number of random bytes. 16 → 128‑bit
const NONCE_SIZE = 16

type StoreType string

// Supported nonce stores.
const (
	Memory StoreType = "memory"
	SQL    StoreType = "sql"
)

var ErrReplay = errors.New("nonce already used")

type ReplayError struct {
	Nonce string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("nonce already used: %s", e.Nonce)
}

func (e *ReplayError) Is(target error) bool { return target == ErrReplay }

type Store interface {
	// Remember records nonce until the given time. A nonce that is already
	// known and not yet expired yields a *ReplayError.
	Remember(ctx context.Context, nonce string, until time.Time) error
	Seen(ctx context.Context, nonce string) bool
	ExpireNonces(ctx context.Context) error
	Close()
}

// New returns a random nonce.
func New() (string, error) {
	b := make([]byte, NONCE_SIZE)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewStore builds the store named by kind. The SQL store keeps its rows in
// provider. A janitor pruning expired entries runs every interval until
// Close.
func NewStore(kind string, provider storage.Provider, clk clock.Clock, interval time.Duration) (Store, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	var store Store
	switch StoreType(kind) {
	case Memory, "":
		store = NewMemoryStore(clk)
	case SQL:
		if provider == nil {
			return nil, errors.New("sql nonce store needs a storage provider")
		}
		store = NewSQLStore(provider, clk)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
	go janitor(store, clk, interval)
	slog.Info("Initialized nonce store", "type", kind)
	return store, nil
}

type stopper interface {
	stopped() <-chan struct{}
}

func janitor(s Store, clk clock.Clock, every time.Duration) {
	stop := s.(stopper).stopped()
	for {
		select {
		case <-clk.After(every):
			if err := s.ExpireNonces(context.Background()); err != nil {
				slog.Error("Failed to expire nonces", "error", err)
			}
		case <-stop:
			return
		}
	}
}
