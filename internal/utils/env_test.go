package utils

import "testing"

func TestSafeEnv(t *testing.T) {
	const key = "_PULSE_TEST_SAFEENV"
	t.Setenv(key, "")
	if got := SafeEnv(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv(key, "value")
	if got := SafeEnv(key, "fallback"); got != "value" {
		t.Fatalf("expected 'value', got %q", got)
	}
}

func TestEnvList(t *testing.T) {
	const key = "_PULSE_TEST_ENVLIST"
	t.Setenv(key, "")
	if got := EnvList(key, []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected fallback, got %v", got)
	}
	t.Setenv(key, " https://a.example , ,https://b.example")
	got := EnvList(key, nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}
