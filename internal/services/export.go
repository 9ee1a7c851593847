package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// ExportSubmissionsCSV renders one row per public submission, with one
// column per pillar. Flagged submissions are skipped and the device hash is
// never exported.
func ExportSubmissionsCSV(subs []*models.Submission) ([]byte, error) {
	rows := make([]*models.Submission, 0, len(subs))
	for _, s := range subs {
		if s != nil && !s.IsFlagged {
			rows = append(rows, s)
		}
	}
	// Stable order by creation time then id
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"submission_id", "cycle_id", "submitted_at", "mode", "stability_score"}
	for _, p := range models.Pillars {
		header = append(header, "pillar_"+string(p))
	}
	header = append(header, "mood", "word", "spotlight_state", "spotlight_tags", "spotlight_comment")
	_ = w.Write(header)
	for _, s := range rows {
		rec := []string{
			s.ID,
			s.CycleID,
			s.CreatedAt.UTC().Format(time.RFC3339),
			string(s.Mode),
			optionalInt(s.StabilityScore),
		}
		for _, p := range models.Pillars {
			rec = append(rec, optionalInt(s.PillarResponses[p]))
		}
		rec = append(rec,
			string(s.Mood),
			s.Word,
			s.SpotlightState,
			strings.Join(s.SpotlightTags, " | "),
			s.SpotlightComment,
		)
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// optionalInt leaves unanswered (zero) values blank.
func optionalInt(i int) string {
	if i == 0 {
		return ""
	}
	return itoa(i)
}

func itoa(i int) string {
	// local small int->string for score cells
	if i == 0 {
		return "0"
	}
	neg := false
	if i < 0 {
		neg = true
		i = -i
	}
	var b [20]byte
	bp := len(b)
	for i > 0 {
		bp--
		b[bp] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		bp--
		b[bp] = '-'
	}
	return string(b[bp:])
}
