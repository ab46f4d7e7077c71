package nonce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"easybox-network/internal/clock"
	"easybox-network/internal/storage"
)

// SQLStore keeps nonces in the nonces table so every backend instance sees
// them.
type SQLStore struct {
	logger  *slog.Logger
	storage storage.Provider
	clock   clock.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

func NewSQLStore(provider storage.Provider, clk clock.Clock) *SQLStore {
	return &SQLStore{
		logger:  slog.With("component", "nonce"),
		storage: provider,
		clock:   clk,
		stop:    make(chan struct{}),
	}
}

func (s *SQLStore) Remember(ctx context.Context, nonce string, until time.Time) error {
	err := s.storage.CreateNonce(ctx, nonce, until)
	if !errors.Is(err, storage.ErrUniqueViolation) {
		return err
	}
	if s.Seen(ctx, nonce) {
		return &ReplayError{Nonce: nonce}
	}
	// an expired row the janitor has not pruned yet
	if err := s.ExpireNonces(ctx); err != nil {
		return err
	}
	err = s.storage.CreateNonce(ctx, nonce, until)
	if errors.Is(err, storage.ErrUniqueViolation) {
		return &ReplayError{Nonce: nonce}
	}
	return err
}

func (s *SQLStore) Seen(ctx context.Context, nonce string) bool {
	exists, err := s.storage.ExistsNonce(ctx, nonce, s.clock.Now())
	if err != nil {
		s.logger.Error("Failed to check nonce existence", "error", err)
		// fail closed
		return true
	}
	return exists
}

func (s *SQLStore) ExpireNonces(ctx context.Context) error {
	return s.storage.ExpireNonces(ctx, s.clock.Now())
}

func (s *SQLStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *SQLStore) stopped() <-chan struct{} { return s.stop }
