package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"easybox-network/internal/jwt"
	"easybox-network/internal/storage"
)

const (
	// Signed messages are {jwt}::{payload}.
	signatureSeparator = "::"
	deviceTokenTTL     = time.Minute
)

var (
	ErrUnknownLocker = errors.New("message from unknown locker")
	ErrUnsigned      = errors.New("unsigned message from a locker that holds its secret")
)

// Sign prefixes payload with a token made from the locker secret, the way a
// locker does before publishing.
func Sign(secret, clientID string, payload []byte) ([]byte, error) {
	tok, err := jwt.SignDeviceEvent(secret, clientID, payload, deviceTokenTTL)
	if err != nil {
		return nil, err
	}
	return []byte(tok + signatureSeparator + string(payload)), nil
}

// open authenticates a message from clientID and returns the sender, the
// bare payload and whether it was signed. Lockers that never received their
// secret may send unsigned messages; once it was delivered every message must
// carry a valid token whose id was not seen before.
func (c *Channel) open(ctx context.Context, clientID string, payload []byte) (*storage.Locker, []byte, bool, error) {
	locker, err := c.lockers.GetLockerByClientID(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		locker = nil
	} else if err != nil {
		return nil, nil, false, err
	}

	tok, body, signed := strings.Cut(string(payload), signatureSeparator)
	if !signed {
		if locker != nil && locker.SecretDelivered {
			return nil, nil, false, ErrUnsigned
		}
		return locker, payload, false, nil
	}
	if locker == nil {
		return nil, nil, false, ErrUnknownLocker
	}

	claims, err := jwt.VerifyDeviceEvent(tok, locker.Secret, clientID, []byte(body))
	if err != nil {
		return nil, nil, false, fmt.Errorf("verify event token: %w", err)
	}
	if c.nonces != nil {
		if err := c.nonces.Remember(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return nil, nil, false, err
		}
	}
	return locker, []byte(body), true, nil
}
