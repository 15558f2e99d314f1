// Package auth verifies the identity tokens minted by the upstream gateway.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	tokenVersion = "v1"
	minSecretLen = 32
)

var (
	ErrMissingSecret    = errors.New("auth token secret is required")
	ErrSecretTooShort   = errors.New("auth token secret is too short")
	ErrInvalidToken     = errors.New("invalid auth token")
	ErrInvalidSignature = errors.New("invalid auth token signature")
	ErrTokenExpired     = errors.New("auth token expired")
)

type tokenPayload struct {
	UserID    int64  `json:"uid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// Verifier validates signed identity tokens.
type Verifier struct {
	secret []byte
	clock  func() time.Time
}

// NewVerifier creates a verifier for HMAC-signed tokens.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Verifier{
		secret: []byte(secret),
		clock:  time.Now,
	}, nil
}

// Verify validates the token and returns the user id.
func (v *Verifier) Verify(token string) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenVersion {
		return 0, ErrInvalidToken
	}

	payloadEncoded := parts[1]
	signature := parts[2]

	expectedSig := signPayload(v.secret, payloadEncoded)
	if !hmac.Equal([]byte(signature), []byte(expectedSig)) {
		return 0, ErrInvalidSignature
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadEncoded)
	if err != nil {
		return 0, ErrInvalidToken
	}

	var payload tokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return 0, ErrInvalidToken
	}

	if payload.UserID <= 0 {
		return 0, ErrInvalidToken
	}

	if payload.ExpiresAt < v.clock().UTC().Unix() {
		return 0, ErrTokenExpired
	}

	return payload.UserID, nil
}

// Sign produces a token for the payload fields. Exposed for tests and
// local tooling; production tokens come from the gateway.
func Sign(secret string, userID int64, ttl time.Duration) (string, error) {
	if len(secret) < minSecretLen {
		return "", ErrSecretTooShort
	}
	now := time.Now().UTC()
	payload := tokenPayload{
		UserID:    userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return strings.Join([]string{tokenVersion, encoded, signPayload([]byte(secret), encoded)}, "."), nil
}

func signPayload(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
