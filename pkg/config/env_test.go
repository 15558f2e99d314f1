package config

import (
	"testing"
	"time"
)

func TestGetEnvDefaults(t *testing.T) {
	if got := GetEnv("TRADING_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := GetEnvInt("TRADING_TEST_MISSING", 9); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
	if got := GetEnvDuration("TRADING_TEST_MISSING", time.Minute); got != time.Minute {
		t.Fatalf("expected 1m, got %v", got)
	}
}

func TestGetEnvSet(t *testing.T) {
	t.Setenv("TRADING_TEST_INT64", "123456789012")
	if got := GetEnvInt64("TRADING_TEST_INT64", 0); got != 123456789012 {
		t.Fatalf("expected 123456789012, got %d", got)
	}

	t.Setenv("TRADING_TEST_BOOL", "true")
	if !GetEnvBool("TRADING_TEST_BOOL", false) {
		t.Fatal("expected true")
	}

	t.Setenv("TRADING_TEST_SLICE", "a, b ,,c")
	got := GetEnvSlice("TRADING_TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected slice %v", got)
	}
}

func TestIsInsecureDevSecret(t *testing.T) {
	if !IsInsecureDevSecret("dev-internal-token-change-me") {
		t.Fatal("dev placeholder should be flagged")
	}
	if IsInsecureDevSecret("a-real-secret-value-32-bytes-long!!") {
		t.Fatal("real secret should not be flagged")
	}
}
