package services

import (
	"fmt"
	"strings"

	"github.com/soaringjerry/Pulse/internal/models"
)

// ValidatePillarSet accepts keys iff they are exactly the canonical pillars,
// in any order, each appearing once.
func ValidatePillarSet(keys []models.Pillar) error {
	seen := map[models.Pillar]int{}
	var unknown []string
	for _, k := range keys {
		if !k.Valid() {
			unknown = append(unknown, string(k))
			continue
		}
		seen[k]++
	}
	var missing, dupes []string
	for _, p := range models.Pillars {
		switch n := seen[p]; {
		case n == 0:
			missing = append(missing, string(p))
		case n > 1:
			dupes = append(dupes, string(p))
		}
	}
	if len(missing) == 0 && len(dupes) == 0 && len(unknown) == 0 && len(keys) == len(models.Pillars) {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(dupes) > 0 {
		parts = append(parts, "duplicate: "+strings.Join(dupes, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return NewInvalidError(fmt.Sprintf("survey questions must cover each of the %d pillars exactly once (%s)", len(models.Pillars), strings.Join(parts, "; ")))
}

// ValidateSurveyQuestions checks the pillar set and each prompt.
func ValidateSurveyQuestions(qs []models.SurveyQuestion) error {
	keys := make([]models.Pillar, 0, len(qs))
	for _, q := range qs {
		keys = append(keys, q.Pillar)
	}
	if err := ValidatePillarSet(keys); err != nil {
		return err
	}
	for _, q := range qs {
		prompt := strings.TrimSpace(q.Prompt)
		if prompt == "" {
			return NewInvalidError(fmt.Sprintf("question for %s: prompt required", q.Pillar))
		}
		if len(prompt) > 240 {
			return NewInvalidError(fmt.Sprintf("question for %s: prompt too long", q.Pillar))
		}
		if len(q.LowLabel) > 40 || len(q.HighLabel) > 40 {
			return NewInvalidError(fmt.Sprintf("question for %s: scale labels too long", q.Pillar))
		}
	}
	return nil
}
