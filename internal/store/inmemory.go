package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/session"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	userByEmail   map[string]string
	checkins      []domain.Checkin
	conversations map[string][]domain.Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[string]domain.User),
		userByEmail:   make(map[string]string),
		conversations: make(map[string][]domain.Conversation),
	}
}

func (s *InMemoryStore) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if _, taken := s.userByEmail[user.Email]; taken {
		return domain.User{}, ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.users[user.ID] = user
	s.userByEmail[user.Email] = user.ID
	return user, nil
}

func (s *InMemoryStore) UserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userByEmail[normalizeEmail(email)]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *InMemoryStore) UserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) SaveCheckin(_ context.Context, checkin domain.Checkin) (domain.Checkin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if checkin.ID == "" {
		checkin.ID = uuid.NewString()
	}
	if checkin.CreatedAt.IsZero() {
		checkin.CreatedAt = time.Now().UTC()
	}
	s.checkins = append(s.checkins, checkin)
	return checkin, nil
}

func (s *InMemoryStore) CheckinsSince(_ context.Context, userID string, since time.Time) ([]domain.Checkin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Checkin
	for _, c := range s.checkins {
		if userID == "" || c.UserID != userID || c.CreatedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) RecentCheckins(_ context.Context, userID string, limit int) ([]domain.Checkin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Checkin
	for _, c := range s.checkins {
		if userID != "" && c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) AppendExchange(_ context.Context, userID string, ex domain.Exchange, now time.Time, window time.Duration) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := s.conversations[userID]
	if active, ok := session.SelectActive(convs, now, window); ok {
		updated := session.Apply(active, ex, now)
		for i := range convs {
			if convs[i].ID == updated.ID {
				convs[i] = updated
				break
			}
		}
		return cloneConversation(updated), nil
	}

	conv := session.NewConversation(uuid.NewString(), userID, ex, now)
	s.conversations[userID] = append(convs, conv)
	return cloneConversation(conv), nil
}

func (s *InMemoryStore) RecentConversations(_ context.Context, userID string, limit int) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := s.conversations[userID]
	out := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, cloneConversation(c))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) EndIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, convs := range s.conversations {
		for i := range convs {
			if convs[i].EndedAt != nil || !convs[i].UpdatedAt.Before(before) {
				continue
			}
			ended := convs[i].UpdatedAt
			convs[i].EndedAt = &ended
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }

func cloneConversation(c domain.Conversation) domain.Conversation {
	msgs := make([]domain.Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	if c.EndedAt != nil {
		ended := *c.EndedAt
		c.EndedAt = &ended
	}
	return c
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
