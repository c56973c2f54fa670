package insights

import (
	"math"
	"time"

	"github.com/antoniostano/confidant/internal/domain"
)

const (
	historyTrendWindow    = 7
	historyTrendThreshold = 1.0
)

// HistoryInsights summarizes a user's past sessions and check-ins.
type HistoryInsights struct {
	TotalSessions        int        `json:"totalSessions"`
	TotalMessages        int        `json:"totalMessages"`
	AverageSessionLength int        `json:"averageSessionLength"`
	CommonThemes         []string   `json:"commonThemes"`
	MoodTrend            Trend      `json:"moodTrend"`
	LastSession          *time.Time `json:"lastSession"`
}

// SummarizeHistory expects both slices newest first.
//
// Its mood trend is a short-horizon signal and differs from Aggregate: it compares
// only the newest and oldest of the last seven check-ins, with a threshold of one
// whole point.
func SummarizeHistory(sessions []domain.Conversation, checkins []domain.Checkin) HistoryInsights {
	out := HistoryInsights{
		TotalSessions: len(sessions),
		CommonThemes:  ExtractThemes(sessions, Vocabulary, MaxThemes),
		MoodTrend:     TrendStable,
	}
	for _, s := range sessions {
		out.TotalMessages += len(s.Messages)
	}
	if out.TotalSessions > 0 {
		out.AverageSessionLength = int(math.Floor(float64(out.TotalMessages)/float64(out.TotalSessions) + 0.5))
		started := sessions[0].StartedAt
		out.LastSession = &started
	}

	recent := checkins
	if len(recent) > historyTrendWindow {
		recent = recent[:historyTrendWindow]
	}
	if len(recent) >= 2 {
		diff := float64(recent[0].Mood - recent[len(recent)-1].Mood)
		switch {
		case diff > historyTrendThreshold:
			out.MoodTrend = TrendImproving
		case diff < -historyTrendThreshold:
			out.MoodTrend = TrendDeclining
		}
	}
	return out
}
