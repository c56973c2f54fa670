package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/insights"
	"github.com/antoniostano/confidant/internal/observability"
)

var ErrInvalidCheckin = errors.New("invalid check-in")

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultSessionLimit = 50
	DefaultCheckinLimit = 100
	cacheName           = "progress"
)

// Store is the persistence surface the service reads and writes.
type Store interface {
	SaveCheckin(ctx context.Context, checkin domain.Checkin) (domain.Checkin, error)
	CheckinsSince(ctx context.Context, userID string, since time.Time) ([]domain.Checkin, error)
	RecentCheckins(ctx context.Context, userID string, limit int) ([]domain.Checkin, error)
	RecentConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
}

type Options struct {
	WindowDays   int
	CacheTTL     time.Duration
	SessionLimit int
	CheckinLimit int
	Location     *time.Location
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

type Service struct {
	store   Store
	kv      cache.KVStore
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
}

// CheckinInput is an unvalidated check-in submission.
type CheckinInput struct {
	Mood   int
	Stress int
	Note   string
}

// History is the payload of the history view.
type History struct {
	Sessions     []domain.Conversation    `json:"sessions"`
	MoodCheckins []domain.Checkin         `json:"moodCheckins"`
	Insights     insights.HistoryInsights `json:"insights"`
}

// NewService wires the store and an optional KV cache. A nil kv disables
// progress caching.
func NewService(st Store, kv cache.KVStore, opts Options) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = insights.DefaultWindowDays
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = DefaultSessionLimit
	}
	if opts.CheckinLimit <= 0 {
		opts.CheckinLimit = DefaultCheckinLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, kv: kv, opts: opts, logger: logger, metrics: opts.Metrics}
}

// cacheKey is scoped to the calendar day of now in loc, so cached charts never
// outlive the day they end on.
func cacheKey(userID string, now time.Time, loc *time.Location) string {
	return "progress:" + userID + ":" + now.In(loc).Format(time.DateOnly)
}

func (s *Service) todayKey(userID string) string {
	return cacheKey(userID, s.opts.Now(), s.opts.Location)
}

// Progress returns the user's daily series and summary for the configured
// window, served from cache when fresh.
func (s *Service) Progress(ctx context.Context, userID string) (insights.Progress, error) {
	now := s.opts.Now()
	key := cacheKey(userID, now, s.opts.Location)
	if cached, ok := s.cachedProgress(ctx, key); ok {
		return cached, nil
	}

	since := now.AddDate(0, 0, -s.opts.WindowDays)
	checkins, err := s.store.CheckinsSince(ctx, userID, since)
	if err != nil {
		return insights.Progress{}, fmt.Errorf("load check-ins: %w", err)
	}

	p := insights.Aggregate(checkins, s.opts.WindowDays, now, s.opts.Location)
	if p.OutOfRange > 0 {
		s.logger.Warn("check-ins with out-of-range ratings aggregated",
			zap.String("user_id", userID), zap.Int("count", p.OutOfRange))
	}
	s.storeProgress(ctx, key, p)
	return p, nil
}

func (s *Service) cachedProgress(ctx context.Context, key string) (insights.Progress, bool) {
	if s.kv == nil || s.opts.CacheTTL < 0 {
		return insights.Progress{}, false
	}
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("progress cache read failed", zap.Error(err))
		}
		s.metrics.ObserveCache(cacheName, false)
		return insights.Progress{}, false
	}
	var p insights.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("progress cache entry unreadable", zap.Error(err))
		s.metrics.ObserveCache(cacheName, false)
		return insights.Progress{}, false
	}
	s.metrics.ObserveCache(cacheName, true)
	return p, true
}

func (s *Service) storeProgress(ctx context.Context, key string, p insights.Progress) {
	if s.kv == nil || s.opts.CacheTTL < 0 {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("progress cache encode failed", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, key, string(raw), s.opts.CacheTTL); err != nil {
		s.logger.Warn("progress cache write failed", zap.Error(err))
	}
}

// History returns recent sessions and check-ins, newest first, with insights.
func (s *Service) History(ctx context.Context, userID string) (History, error) {
	sessions, err := s.store.RecentConversations(ctx, userID, s.opts.SessionLimit)
	if err != nil {
		return History{}, fmt.Errorf("load sessions: %w", err)
	}
	checkins, err := s.store.RecentCheckins(ctx, userID, s.opts.CheckinLimit)
	if err != nil {
		return History{}, fmt.Errorf("load check-ins: %w", err)
	}
	if sessions == nil {
		sessions = []domain.Conversation{}
	}
	if checkins == nil {
		checkins = []domain.Checkin{}
	}
	return History{
		Sessions:     sessions,
		MoodCheckins: checkins,
		Insights:     insights.SummarizeHistory(sessions, checkins),
	}, nil
}

// ValidateCheckin checks ratings and trims the note.
func ValidateCheckin(in CheckinInput) (CheckinInput, error) {
	if in.Mood == 0 || in.Stress == 0 {
		return CheckinInput{}, fmt.Errorf("%w: mood and stress required", ErrInvalidCheckin)
	}
	if in.Mood < domain.MinRating || in.Mood > domain.MaxRating {
		return CheckinInput{}, fmt.Errorf("%w: mood must be between %d and %d", ErrInvalidCheckin, domain.MinRating, domain.MaxRating)
	}
	if in.Stress < domain.MinRating || in.Stress > domain.MaxRating {
		return CheckinInput{}, fmt.Errorf("%w: stress must be between %d and %d", ErrInvalidCheckin, domain.MinRating, domain.MaxRating)
	}
	in.Note = strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(in.Note) > domain.MaxNoteLength {
		return CheckinInput{}, fmt.Errorf("%w: note exceeds %d characters", ErrInvalidCheckin, domain.MaxNoteLength)
	}
	return in, nil
}

// RecordCheckin stores a check-in. Anonymous check-ins are accepted even when
// the store is unavailable; the failure is logged and the record dropped.
func (s *Service) RecordCheckin(ctx context.Context, userID string, in CheckinInput) (domain.Checkin, error) {
	in, err := ValidateCheckin(in)
	if err != nil {
		return domain.Checkin{}, err
	}
	anonymous := userID == ""
	c := domain.Checkin{
		UserID:    userID,
		Mood:      in.Mood,
		Stress:    in.Stress,
		Note:      in.Note,
		CreatedAt: s.opts.Now().UTC(),
	}

	saved, err := s.store.SaveCheckin(ctx, c)
	if err != nil {
		s.metrics.ObservePersistError("checkin")
		if anonymous {
			s.logger.Warn("check-in persistence skipped", zap.Error(err))
			return c, nil
		}
		return domain.Checkin{}, fmt.Errorf("save check-in: %w", err)
	}
	s.metrics.ObserveCheckin(anonymous)

	if !anonymous && s.kv != nil {
		if err := s.kv.Delete(ctx, s.todayKey(userID)); err != nil {
			s.logger.Warn("progress cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return saved, nil
}

// Checkins returns up to limit of the user's check-ins, newest first. A
// non-positive limit returns all of them.
func (s *Service) Checkins(ctx context.Context, userID string, limit int) ([]domain.Checkin, error) {
	out, err := s.store.RecentCheckins(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load check-ins: %w", err)
	}
	return out, nil
}

// Location is the reference location used for day buckets.
func (s *Service) Location() *time.Location { return s.opts.Location }
