package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

const topWordsLimit = 10

// AggregateSentiment summarises the non-flagged check-ins of one cycle.
func AggregateSentiment(cycleID string, subs []*models.Submission, now time.Time) *models.SentimentSummary {
	out := &models.SentimentSummary{
		CycleID:    cycleID,
		Moods:      map[models.Mood]int{},
		ComputedAt: now,
	}
	var (
		scoreSum, scoreN int
		pillarSum        = map[models.Pillar]int{}
		pillarN          = map[models.Pillar]int{}
		words            = map[string]int{}
		countsByDay      = map[string]int{}
		matrix           [][]float64
	)
	for _, s := range subs {
		if s == nil || s.IsFlagged {
			continue
		}
		out.Responses++
		out.Moods[s.Mood]++
		if w := strings.ToLower(strings.TrimSpace(s.Word)); w != "" {
			words[w]++
		}
		countsByDay[s.CreatedAt.UTC().Format("2006-01-02")]++
		switch s.Mode {
		case models.ModeScore:
			scoreSum += s.StabilityScore
			scoreN++
		case models.ModePillars:
			row, complete := make([]float64, 0, len(models.Pillars)), true
			for _, p := range models.Pillars {
				v, ok := s.PillarResponses[p]
				if !ok {
					complete = false
					continue
				}
				pillarSum[p] += v
				pillarN[p]++
				row = append(row, float64(v))
			}
			if complete {
				matrix = append(matrix, row)
			}
		}
	}
	if scoreN > 0 {
		out.MeanScore = round2(float64(scoreSum) / float64(scoreN))
	}
	if len(pillarN) > 0 {
		out.PillarMeans = make(map[models.Pillar]float64, len(pillarN))
		for p, n := range pillarN {
			out.PillarMeans[p] = round2(float64(pillarSum[p]) / float64(n))
		}
	}
	out.PillarAlpha = round2(CronbachAlpha(matrix))
	out.TopWords = topWords(words, topWordsLimit)
	out.Timeseries = buildTimeseries(countsByDay)
	if len(out.Moods) == 0 {
		out.Moods = nil
	}
	return out
}

func topWords(counts map[string]int, limit int) []models.WordCount {
	out := make([]models.WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, models.WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func buildTimeseries(counts map[string]int) []models.DailyCount {
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]models.DailyCount, 0, len(days))
	for _, d := range days {
		out = append(out, models.DailyCount{Date: d, Count: counts[d]})
	}
	return out
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// Sentiment aggregates a cycle's public check-ins; an empty cycleID means
// the current cycle.
func (s *SubmissionService) Sentiment(ctx context.Context, actor Actor, cycleID string) (*models.SentimentSummary, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	id, err := s.resolveCycleID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubmissions(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return AggregateSentiment(id, subs, s.now()), nil
}
