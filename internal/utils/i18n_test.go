package utils

import "testing"

func TestT_Fallback(t *testing.T) {
	if got := T("ha", "health.ok"); got != "ok" {
		t.Fatalf("fallback to en failed: %s", got)
	}
	if got := T("fr", "missing.key"); got != "missing.key" {
		t.Fatalf("unknown key should echo, got %s", got)
	}
}

func TestT_EveryLocaleHasErrorHints(t *testing.T) {
	for _, loc := range SupportedLocales {
		for _, code := range []string{"invalid", "pii", "conflict", "not_found", "unauthorized", "internal"} {
			if _, ok := translations[loc]["error."+code]; !ok {
				t.Fatalf("locale %s lacks error.%s", loc, code)
			}
		}
	}
}
