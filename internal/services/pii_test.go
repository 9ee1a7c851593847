package services

import "testing"

func TestContainsPII(t *testing.T) {
	flagged := []string{
		"user@example.com",
		"write to Ada.Obi+news@mail.example.ng please",
		"+234 801 234 5678",
		"call me at 08012345678",
		"(0803) 555-0199 22",
		"0803.555.0199",
		"+2348012345678",
		"0803 555 0199 after 12:30",
	}
	for _, s := range flagged {
		if !ContainsPII(s) {
			t.Fatalf("ContainsPII(%q) = false, want true", s)
		}
	}
	clean := []string{
		"",
		"prices doubled",
		"since 2026-01-15 things changed",
		"score 7 of 10",
		"naira at 1500/$",
		"@handle",
		"room 12345",
		"meeting on 2024-01-01 12:30",
		"prices up 1000 2000 3000 naira",
		"since 01/02/2026 10:45:00 nothing",
		"fuel went 650 - 700 - 900 naira",
	}
	for _, s := range clean {
		if ContainsPII(s) {
			t.Fatalf("ContainsPII(%q) = true, want false", s)
		}
	}
}

func TestJoinFreeTextKeepsFieldsApart(t *testing.T) {
	// two short numbers must not merge into one phone-shaped run
	if ContainsPII(joinFreeText("12345", "67890")) {
		t.Fatalf("digits merged across fields")
	}
}
