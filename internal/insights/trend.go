package insights

import (
	"math"
	"sort"
	"time"

	"github.com/antoniostano/confidant/internal/domain"
)

// DefaultWindowDays is the length of the progress chart.
const DefaultWindowDays = 30

const (
	// trendWindow is the number of records in each of the recent/older comparison windows.
	trendWindow = 7
	// trendThreshold is the mean difference that separates a trend from noise.
	trendThreshold = 0.5
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// DailyPoint is one calendar day of the progress chart. Mood and Stress are nil
// when no check-in landed on that day.
type DailyPoint struct {
	Date    string   `json:"date"`
	Day     string   `json:"day"`
	Mood    *float64 `json:"mood"`
	Stress  *float64 `json:"stress"`
	HasData bool     `json:"hasData"`
}

type TrendSummary struct {
	TotalCheckins int     `json:"totalCheckins"`
	AverageMood   float64 `json:"averageMood"`
	AverageStress float64 `json:"averageStress"`
	MoodTrend     Trend   `json:"moodTrend"`
	StressTrend   Trend   `json:"stressTrend"`
	DaysTracked   int     `json:"daysTracked"`
}

// Progress is the payload served to the progress chart.
type Progress struct {
	ChartData  []DailyPoint `json:"chartData"`
	Statistics TrendSummary `json:"statistics"`

	// OutOfRange counts ratings outside [1,10]. They are still aggregated.
	OutOfRange int `json:"-"`
}

// Aggregate buckets check-ins into a days-long daily series ending on the
// calendar day of now in loc, and summarizes them.
//
// Records that fall outside the window are ignored by the series but still count
// toward the summary. daysTracked is the number of distinct calendar days (in loc)
// that have at least one record, across all input.
func Aggregate(checkins []domain.Checkin, days int, now time.Time, loc *time.Location) Progress {
	if days <= 0 {
		days = DefaultWindowDays
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]domain.Checkin, len(checkins))
	copy(sorted, checkins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	type bucket struct {
		moodSum, stressSum int
		count              int
	}
	local := now.In(loc)
	// Noon exists on every calendar day; midnight does not where DST starts at 00:00.
	today := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)

	dates := make([]time.Time, days)
	buckets := make(map[string]*bucket, days)
	for i := 0; i < days; i++ {
		dates[i] = today.AddDate(0, 0, i-(days-1))
		buckets[dayKey(dates[i])] = &bucket{}
	}

	var (
		moodSum, stressSum int
		outOfRange         int
		seenDays           = make(map[string]struct{})
	)
	for _, c := range sorted {
		if !inRange(c.Mood) || !inRange(c.Stress) {
			outOfRange++
		}
		moodSum += c.Mood
		stressSum += c.Stress

		key := dayKey(c.CreatedAt.In(loc))
		seenDays[key] = struct{}{}
		if b, ok := buckets[key]; ok {
			b.moodSum += c.Mood
			b.stressSum += c.Stress
			b.count++
		}
	}

	chart := make([]DailyPoint, 0, days)
	for _, date := range dates {
		key := dayKey(date)
		b := buckets[key]
		p := DailyPoint{
			Date:    key,
			Day:     date.Format("Mon"),
			HasData: b.count > 0,
		}
		if b.count > 0 {
			mood := round1(float64(b.moodSum) / float64(b.count))
			stress := round1(float64(b.stressSum) / float64(b.count))
			p.Mood = &mood
			p.Stress = &stress
		}
		chart = append(chart, p)
	}

	summary := TrendSummary{
		TotalCheckins: len(sorted),
		MoodTrend:     TrendStable,
		StressTrend:   TrendStable,
		DaysTracked:   len(seenDays),
	}
	if n := len(sorted); n > 0 {
		summary.AverageMood = round1(float64(moodSum) / float64(n))
		summary.AverageStress = round1(float64(stressSum) / float64(n))
	}
	if len(sorted) >= trendWindow {
		// The two windows overlap when fewer than 2*trendWindow records exist.
		recent := sorted[len(sorted)-trendWindow:]
		older := sorted[:trendWindow]

		summary.MoodTrend = classify(mean(recent, moodOf) - mean(older, moodOf))
		// Lower stress is the favorable direction.
		summary.StressTrend = classify(mean(older, stressOf) - mean(recent, stressOf))
	}

	return Progress{
		ChartData:  chart,
		Statistics: summary,
		OutOfRange: outOfRange,
	}
}

func classify(diff float64) Trend {
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(checkins []domain.Checkin, value func(domain.Checkin) int) float64 {
	if len(checkins) == 0 {
		return 0
	}
	sum := 0
	for _, c := range checkins {
		sum += value(c)
	}
	return float64(sum) / float64(len(checkins))
}

func moodOf(c domain.Checkin) int   { return c.Mood }
func stressOf(c domain.Checkin) int { return c.Stress }

func inRange(v int) bool {
	return v >= domain.MinRating && v <= domain.MaxRating
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// round1 rounds half-up to one decimal place.
func round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
