package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Locker secrets are 256-bit
const SECRET_SIZE = 32

// RandomToken returns size random bytes encoded as unpadded URL-safe base64.
func RandomToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("invalid token size %d", size)
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSecret creates a fresh locker secret.
func GenerateSecret() (string, error) {
	return RandomToken(SECRET_SIZE)
}
