package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresAppendExchangeMerges(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := s.AppendExchange(ctx, userID, exchange("hello", "hi"), now, 30*time.Minute)
	if err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}
	second, err := s.AppendExchange(ctx, userID, exchange("still here", "good"), now.Add(time.Minute), 30*time.Minute)
	if err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("second exchange did not merge: %q != %q", second.ID, first.ID)
	}

	convs, err := s.RecentConversations(ctx, userID, 5)
	if err != nil {
		t.Fatalf("RecentConversations() error = %v", err)
	}
	if len(convs) != 1 || len(convs[0].Messages) != 4 {
		t.Fatalf("RecentConversations() = %+v, want one conversation with 4 messages", convs)
	}
}

func TestPostgresCheckinsRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := s.SaveCheckin(ctx, domainCheckin(userID, 6, 4, now.Add(-time.Hour))); err != nil {
		t.Fatalf("SaveCheckin() error = %v", err)
	}
	if _, err := s.SaveCheckin(ctx, domainCheckin(userID, 7, 3, now)); err != nil {
		t.Fatalf("SaveCheckin() error = %v", err)
	}

	got, err := s.CheckinsSince(ctx, userID, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CheckinsSince() error = %v", err)
	}
	if len(got) != 2 || got[0].Mood != 6 || got[1].Mood != 7 {
		t.Fatalf("CheckinsSince() = %+v", got)
	}
}
