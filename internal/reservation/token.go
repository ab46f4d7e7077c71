package reservation

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"easybox-network/internal/utils"

	"github.com/skip2/go-qrcode"
)

const (
	tokenPrefix = "reservation"
	// 40 bits of randomness per issued code
	tokenNonceBytes = 5
)

// NewToken builds the code printed in a reservation's QR image.
func NewToken(id int64) (string, error) {
	nonce, err := utils.RandomToken(tokenNonceBytes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", tokenPrefix, id, nonce), nil
}

// ParseToken splits reservation:{id}:{nonce}. The id must be a positive
// integer and the nonce non-empty unpadded URL-safe base64.
func ParseToken(raw string) (int64, string, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return 0, "", &utils.InvalidFormatError{Input: raw, Reason: "expected reservation:{id}:{nonce}"}
	}
	for _, r := range parts[1] {
		if r < '0' || r > '9' {
			return 0, "", &utils.InvalidFormatError{Input: raw, Reason: "reservation id is not a number"}
		}
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", &utils.InvalidFormatError{Input: raw, Reason: "reservation id must be positive"}
	}
	if parts[2] == "" {
		return 0, "", &utils.InvalidFormatError{Input: raw, Reason: "missing nonce"}
	}
	if _, err := base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return 0, "", &utils.InvalidFormatError{Input: raw, Reason: "nonce is not url-safe base64"}
	}
	return id, parts[2], nil
}

// RenderQR encodes token as a PNG QR code and returns it base64 encoded.
func RenderQR(token string, size int) (string, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return "", &utils.ConfigurationError{Err: fmt.Errorf("render qr code: %w", err)}
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
