package store

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/confidant/internal/domain"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Store persists users, check-ins and conversations.
//
// Listing methods document their ordering. Check-ins with an empty UserID are
// anonymous and never returned by per-user queries.
type Store interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id string) (domain.User, error)

	SaveCheckin(ctx context.Context, checkin domain.Checkin) (domain.Checkin, error)
	// CheckinsSince returns the user's check-ins created at or after since, oldest first.
	CheckinsSince(ctx context.Context, userID string, since time.Time) ([]domain.Checkin, error)
	// RecentCheckins returns up to limit check-ins, newest first; all of them when limit <= 0.
	RecentCheckins(ctx context.Context, userID string, limit int) ([]domain.Checkin, error)

	// AppendExchange appends ex to the user's active conversation, or starts a new
	// one, as a single atomic step per user. See session.SelectActive.
	AppendExchange(ctx context.Context, userID string, ex domain.Exchange, now time.Time, window time.Duration) (domain.Conversation, error)
	// RecentConversations returns up to limit conversations, most recently started first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
	// EndIdle stamps EndedAt on open conversations last updated before the cutoff.
	EndIdle(ctx context.Context, before time.Time) (int, error)

	Ping(ctx context.Context) error
	Mode() string
	Close() error
}
