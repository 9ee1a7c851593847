package services

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	// digit groups joined by at most one space, dot or dash; a group may sit
	// in parentheses
	phoneCandidate = regexp.MustCompile(`\+?(?:\(\d+\)|\d+)(?:[\s.\-]?(?:\(\d+\)|\d+))*`)
	// calendar dates and clock times, blanked out before phone matching
	dateTimePattern = regexp.MustCompile(`\b(?:\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4}|\d{1,2}:\d{2}(?::\d{2})?)\b`)
)

const minPhoneDigits = 10

// ContainsPII reports whether text holds an email-shaped or
// phone-number-shaped substring. It is a heuristic: false negatives are
// accepted.
func ContainsPII(text string) bool {
	if emailPattern.MatchString(text) {
		return true
	}
	text = dateTimePattern.ReplaceAllString(text, " | ")
	for _, m := range phoneCandidate.FindAllString(text, -1) {
		if phoneShaped(m) {
			return true
		}
	}
	return false
}

// phoneShaped accepts an unbroken run of at least minPhoneDigits digits, or a
// grouped one that starts like a dialled number: '+', '(' or a trunk '0'.
// Grouped figures such as "1000 2000 3000" do not.
func phoneShaped(m string) bool {
	digits, grouped := 0, false
	for _, r := range m {
		if r >= '0' && r <= '9' {
			digits++
		} else {
			grouped = true
		}
	}
	if digits < minPhoneDigits {
		return false
	}
	if !grouped {
		return true
	}
	switch m[0] {
	case '+', '(', '0':
		return true
	}
	return false
}

// joinFreeText concatenates fields with a separator the phone pattern cannot
// span, so digits from adjacent fields never merge.
func joinFreeText(fields ...string) string {
	return strings.Join(fields, " | ")
}
