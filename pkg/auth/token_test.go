package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "unit-test-secret-0123456789abcdef!!"

func TestVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := Sign(testSecret, 1001, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	uid, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if uid != 1001 {
		t.Fatalf("expected uid 1001, got %d", uid)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	token, _ := Sign(testSecret, 7, time.Minute)

	parts := strings.Split(token, ".")
	tampered := strings.Join([]string{parts[0], parts[1], strings.Repeat("0", len(parts[2]))}, ".")
	if _, err := v.Verify(tampered); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	token, _ := Sign(testSecret, 7, -time.Minute)
	if _, err := v.Verify(token); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestNewVerifierShortSecret(t *testing.T) {
	if _, err := NewVerifier("short"); err != ErrSecretTooShort {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}
