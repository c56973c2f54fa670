package session

import (
	"time"

	"github.com/antoniostano/confidant/internal/domain"
)

// DefaultMergeWindow is how long a conversation stays open for new turns.
const DefaultMergeWindow = 30 * time.Minute

// SelectActive picks the conversation a new exchange should be appended to.
//
// A candidate qualifies when it has not been ended, was updated within window of
// now and already holds an assistant reply. The most recently updated qualifying
// candidate wins. ok is false when a new conversation must be started.
//
// Callers must run SelectActive and the following append as one atomic step per
// user; see store.Store.AppendExchange.
func SelectActive(candidates []domain.Conversation, now time.Time, window time.Duration) (selected domain.Conversation, ok bool) {
	if window <= 0 {
		window = DefaultMergeWindow
	}
	cutoff := now.Add(-window)
	for _, c := range candidates {
		if c.EndedAt != nil || c.UpdatedAt.Before(cutoff) || !c.HasAssistantReply() {
			continue
		}
		if !ok || c.UpdatedAt.After(selected.UpdatedAt) {
			selected = c
			ok = true
		}
	}
	return selected, ok
}

// Apply appends the exchange to conv and bumps its activity time.
func Apply(conv domain.Conversation, ex domain.Exchange, now time.Time) domain.Conversation {
	msgs := make([]domain.Message, 0, len(conv.Messages)+2)
	msgs = append(msgs, conv.Messages...)
	msgs = append(msgs, stamp(ex.User, now), stamp(ex.Assistant, now))
	conv.Messages = msgs
	conv.CrisisFlag = conv.CrisisFlag || ex.Crisis
	conv.UpdatedAt = now
	return conv
}

// NewConversation starts a conversation holding only ex.
func NewConversation(id, userID string, ex domain.Exchange, now time.Time) domain.Conversation {
	return Apply(domain.Conversation{
		ID:        id,
		UserID:    userID,
		StartedAt: now,
	}, ex, now)
}

func stamp(m domain.Message, now time.Time) domain.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	return m
}
