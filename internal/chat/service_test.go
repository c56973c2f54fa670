package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/safety"
	"github.com/antoniostano/confidant/internal/store"
)

var now = time.Date(2026, time.April, 2, 18, 0, 0, 0, time.UTC)

type scriptedAdapter struct {
	deltas []string
	err    error
	got    brain.Request
}

func (a *scriptedAdapter) StreamResponse(_ context.Context, req brain.Request, onDelta brain.DeltaHandler) (brain.Response, error) {
	a.got = req
	if a.err != nil {
		return brain.Response{}, a.err
	}
	var out strings.Builder
	for _, d := range a.deltas {
		out.WriteString(d)
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return brain.Response{}, err
			}
		}
	}
	return brain.Response{Text: out.String(), Provider: "scripted"}, nil
}

type failingStore struct{}

func (failingStore) AppendExchange(context.Context, string, domain.Exchange, time.Time, time.Duration) (domain.Conversation, error) {
	return domain.Conversation{}, errors.New("db down")
}

func newService(adapter brain.Adapter, st ExchangeStore, logger *zap.Logger) *Service {
	return NewService(adapter, st, Options{
		Logger: logger,
		Now:    func() time.Time { return now },
	})
}

func TestReplyStreamsAndPersistsForSignedInUser(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []string{"That sounds ", "hard."}}
	st := store.NewInMemoryStore()
	svc := newService(adapter, st, nil)

	var streamed []string
	reply, err := svc.Reply(context.Background(), Request{UserID: "u1", Message: "  work was rough  "}, func(d string) error {
		streamed = append(streamed, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if reply.Text != "That sounds hard." {
		t.Fatalf("Text = %q", reply.Text)
	}
	if len(streamed) != 2 {
		t.Fatalf("streamed = %q, want 2 deltas", streamed)
	}
	if adapter.got.Message != "work was rough" {
		t.Fatalf("brain got message %q, want trimmed", adapter.got.Message)
	}
	if reply.ConversationID == "" {
		t.Fatalf("ConversationID empty, want persisted conversation")
	}

	convs, _ := st.RecentConversations(context.Background(), "u1", 0)
	if len(convs) != 1 || len(convs[0].Messages) != 2 {
		t.Fatalf("stored conversations = %+v, want one with 2 messages", convs)
	}
	if convs[0].Messages[1].Content != "That sounds hard." {
		t.Fatalf("stored assistant message = %q", convs[0].Messages[1].Content)
	}
}

func TestReplyAnonymousIsNotPersisted(t *testing.T) {
	st := store.NewInMemoryStore()
	svc := newService(&scriptedAdapter{deltas: []string{"ok"}}, st, nil)

	reply, err := svc.Reply(context.Background(), Request{Message: "hi"}, nil)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if reply.ConversationID != "" {
		t.Fatalf("ConversationID = %q, want empty for anonymous turn", reply.ConversationID)
	}
	if convs, _ := st.RecentConversations(context.Background(), "", 0); len(convs) != 0 {
		t.Fatalf("anonymous conversations stored: %d", len(convs))
	}
}

func TestReplyFlagsCrisis(t *testing.T) {
	st := store.NewInMemoryStore()
	core, logs := observer.New(zapcore.WarnLevel)
	svc := newService(&scriptedAdapter{deltas: []string{"I'm here."}}, st, zap.New(core))

	reply, err := svc.Reply(context.Background(), Request{UserID: "u1", Message: "I want to kill myself"}, nil)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if !reply.Crisis || reply.CrisisMessage != safety.CrisisMessage {
		t.Fatalf("reply = %+v, want crisis with resources", reply)
	}
	if reply.Text != "I'm here." {
		t.Fatalf("Text = %q, want model reply unchanged", reply.Text)
	}
	convs, _ := st.RecentConversations(context.Background(), "u1", 0)
	if len(convs) != 1 || !convs[0].CrisisFlag {
		t.Fatalf("stored conversation CrisisFlag not set: %+v", convs)
	}
	if logs.FilterMessage("crisis language detected").Len() != 1 {
		t.Fatalf("crisis warning not logged")
	}
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if strings.Contains(f.String, "kill myself") {
				t.Fatalf("log field %q leaks message content", f.Key)
			}
		}
	}
}

func TestReplyPersistenceFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	svc := newService(&scriptedAdapter{deltas: []string{"still here"}}, failingStore{}, zap.New(core))

	reply, err := svc.Reply(context.Background(), Request{UserID: "u1", Message: "hello"}, nil)
	if err != nil {
		t.Fatalf("Reply() error = %v, want nil despite store failure", err)
	}
	if reply.Text != "still here" || reply.ConversationID != "" {
		t.Fatalf("reply = %+v", reply)
	}
	if logs.FilterMessage("save chat session failed").Len() != 1 {
		t.Fatalf("persistence failure not logged")
	}
}

func TestReplyValidatesMessage(t *testing.T) {
	svc := newService(&scriptedAdapter{deltas: []string{"x"}}, store.NewInMemoryStore(), nil)
	for _, msg := range []string{"", "   ", strings.Repeat("a", MaxMessageLength+1)} {
		if _, err := svc.Reply(context.Background(), Request{Message: msg}, nil); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("Reply(len=%d) error = %v, want ErrInvalidMessage", len(msg), err)
		}
	}
	if _, err := svc.Reply(context.Background(), Request{Message: strings.Repeat("é", MaxMessageLength)}, nil); err != nil {
		t.Fatalf("Reply(max runes) error = %v", err)
	}
}

func TestReplyBrainErrorFailsTurn(t *testing.T) {
	svc := newService(&scriptedAdapter{err: errors.New("upstream 500")}, store.NewInMemoryStore(), nil)
	if _, err := svc.Reply(context.Background(), Request{UserID: "u1", Message: "hi"}, nil); err == nil {
		t.Fatalf("Reply() error = nil, want brain error")
	}

	svc = newService(&scriptedAdapter{deltas: []string{"  "}}, store.NewInMemoryStore(), nil)
	if _, err := svc.Reply(context.Background(), Request{Message: "hi"}, nil); err == nil {
		t.Fatalf("Reply() error = nil, want empty reply error")
	}
}

func TestReplyPassesTrimmedHistory(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []string{"ok"}}
	svc := NewService(adapter, store.NewInMemoryStore(), Options{HistoryLimit: 4})

	var history []domain.Message
	for i := 0; i < 10; i++ {
		history = append(history, domain.Message{Role: domain.RoleUser, Content: "m"})
	}
	if _, err := svc.Reply(context.Background(), Request{Message: "hi", Conversation: history}, nil); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if len(adapter.got.History) != 4 {
		t.Fatalf("len(History) = %d, want 4", len(adapter.got.History))
	}
	if adapter.got.SystemPrompt != brain.SystemPrompt {
		t.Fatalf("SystemPrompt not set")
	}
}
