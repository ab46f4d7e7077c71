// Package jwt issues the bearer tokens bakeries use against the API and
// checks the tokens lockers attach to the events they publish.
package jwt

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"easybox-network/internal/nonce"
	"easybox-network/internal/storage"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrNonValidToken    = errors.New("token did not pass validation")
	ErrInvalidClaimType = errors.New("invalid claim type")
	ErrPayloadMismatch  = errors.New("token does not cover this payload")
	ErrMissingTokenID   = errors.New("token has no id")
)

var tokenSignatureAlg = gojwt.SigningMethodHS256

// BakeryClaims identify the bakery behind an API call.
type BakeryClaims struct {
	BakeryID int64  `json:"bakery_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	gojwt.RegisteredClaims
}

// Issuer signs and checks bakery tokens with the server secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) IssueBakeryToken(b *storage.Bakery, role string) (string, error) {
	claims := BakeryClaims{
		BakeryID: b.ID,
		Email:    b.Email,
		Role:     role,
	}
	rc, err := i.registeredClaim(fmt.Sprint(b.ID), i.ttl)
	if err != nil {
		return "", err
	}
	claims.RegisteredClaims = rc
	return GenerateJWT(claims, i.secret)
}

// DecodeBakeryToken fails with ErrNonValidToken wrapping the parser's reason.
func (i *Issuer) DecodeBakeryToken(tokenString string) (*BakeryClaims, error) {
	claims, err := decodeJWT(tokenString, &BakeryClaims{}, i.secret,
		gojwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNonValidToken, err)
	}
	return claims, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) registeredClaim(subject string, ttl time.Duration) (gojwt.RegisteredClaims, error) {
	id, err := nonce.New()
	if err != nil {
		return gojwt.RegisteredClaims{}, fmt.Errorf("failed to generate token id: %w", err)
	}
	now := i.now().UTC()
	return gojwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

// DeviceEventClaims accompany an event a locker publishes. The subject is
// the locker's client id and PayloadHash binds the token to one payload.
type DeviceEventClaims struct {
	PayloadHash string `json:"pld"`
	gojwt.RegisteredClaims
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SignDeviceEvent is what a locker does before publishing payload.
func SignDeviceEvent(secret, clientID string, payload []byte, ttl time.Duration) (string, error) {
	id, err := nonce.New()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := DeviceEventClaims{
		PayloadHash: payloadHash(payload),
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        id,
			Subject:   clientID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return GenerateJWT(claims, []byte(secret))
}

// VerifyDeviceEvent checks tokenString against the locker secret and
// payload. Replay protection on the token id is left to the caller.
func VerifyDeviceEvent(tokenString, secret, clientID string, payload []byte) (*DeviceEventClaims, error) {
	claims, err := decodeJWT(tokenString, &DeviceEventClaims{}, []byte(secret),
		gojwt.WithSubject(clientID), gojwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrMissingTokenID
	}
	if claims.PayloadHash != payloadHash(payload) {
		return nil, ErrPayloadMismatch
	}
	return claims, nil
}

// Generic JWT token generation function
func GenerateJWT(claims gojwt.Claims, key []byte) (string, error) {
	token := gojwt.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString(key)
}

func decodeJWT[T gojwt.Claims](tokenString string, claimsType T, key []byte, opts ...gojwt.ParserOption) (T, error) {
	var zero T

	opts = append(opts, gojwt.WithValidMethods([]string{tokenSignatureAlg.Alg()}))
	parsedToken, err := gojwt.ParseWithClaims(tokenString, claimsType, func(token *gojwt.Token) (any, error) {
		return key, nil
	}, opts...)

	if err != nil {
		return zero, err
	} else if parsedToken == nil || !parsedToken.Valid {
		return zero, ErrNonValidToken
	} else if claims, ok := parsedToken.Claims.(T); ok {
		return claims, nil
	}

	return zero, ErrInvalidClaimType
}
