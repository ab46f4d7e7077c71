package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(5)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 5)

	other, err := RandomToken(5)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	_, err = RandomToken(0)
	assert.Error(t, err)
}

func TestMQTTClientID(t *testing.T) {
	id := MQTTClientID("easybox-backend")
	assert.True(t, strings.HasPrefix(id, "easybox-backend-"))
	assert.NotEqual(t, id, MQTTClientID("easybox-backend"))
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err       error
		sentinel  error
		retryable bool
	}{
		{&ConflictError{Reason: "reservation conflict, retry"}, ErrConflict, true},
		{&NotFoundError{Kind: "reservation", ID: 7}, ErrNotFound, false},
		{&GeocodingFailure{Address: "nowhere"}, ErrGeocoding, true},
		{&TimeoutError{Op: "request-compartments", Target: "box-1"}, ErrTimeout, true},
		{&InvalidFormatError{Reason: "bad prefix"}, ErrInvalidFormat, false},
		{&InvalidStateError{Op: "scan", Status: "completed"}, ErrInvalidState, false},
		{&ConfigurationError{Err: errors.New("qr")}, ErrConfiguration, false},
	}
	for _, tc := range cases {
		t.Run(tc.sentinel.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
			assert.Equal(t, tc.retryable, Retryable(wrapped))
		})
	}
}

func TestInvalidStateErrorEchoesStatus(t *testing.T) {
	err := &InvalidStateError{Op: "scan", Status: "completed"}
	assert.Contains(t, err.Error(), "completed")

	var target *InvalidStateError
	require.ErrorAs(t, fmt.Errorf("wrap: %w", err), &target)
	assert.Equal(t, "completed", target.Status)
}
