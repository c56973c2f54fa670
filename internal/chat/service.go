package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/observability"
	"github.com/antoniostano/confidant/internal/safety"
	"github.com/antoniostano/confidant/internal/session"
)

const (
	MaxMessageLength = 4000
	persistTimeout   = 5 * time.Second
)

var ErrInvalidMessage = errors.New("invalid message")

// Request is one user turn. Conversation carries prior messages supplied by
// the client and is used only as model context.
type Request struct {
	UserID       string
	Message      string
	Conversation []domain.Message
}

type Reply struct {
	Text           string
	Provider       string
	Crisis         bool
	CrisisMessage  string
	ConversationID string
}

// ExchangeStore is the slice of the store a chat turn writes to.
type ExchangeStore interface {
	AppendExchange(ctx context.Context, userID string, ex domain.Exchange, now time.Time, window time.Duration) (domain.Conversation, error)
}

type Options struct {
	HistoryLimit int
	MergeWindow  time.Duration
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Now          func() time.Time
}

type Service struct {
	brain        brain.Adapter
	store        ExchangeStore
	logger       *zap.Logger
	metrics      *observability.Metrics
	historyLimit int
	mergeWindow  time.Duration
	now          func() time.Time
}

func NewService(adapter brain.Adapter, store ExchangeStore, opts Options) *Service {
	s := &Service{
		brain:        adapter,
		store:        store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		historyLimit: opts.HistoryLimit,
		mergeWindow:  opts.MergeWindow,
		now:          opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.historyLimit <= 0 {
		s.historyLimit = brain.DefaultHistoryLimit
	}
	if s.mergeWindow <= 0 {
		s.mergeWindow = session.DefaultMergeWindow
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Validate trims msg and checks it is a sendable chat message.
func Validate(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, MaxMessageLength)
	}
	return msg, nil
}

// Reply generates the assistant's answer, streaming deltas to onDelta, and
// records the exchange for signed-in users. A failed write is logged and
// does not fail the turn.
func (s *Service) Reply(ctx context.Context, req Request, onDelta brain.DeltaHandler) (Reply, error) {
	msg, err := Validate(req.Message)
	if err != nil {
		return Reply{}, err
	}
	crisis := safety.DetectCrisis(msg)
	log := s.logger.With(zap.Bool("anonymous", req.UserID == ""))

	start := time.Now()
	var firstDelta sync.Once
	resp, err := s.brain.StreamResponse(ctx, brain.NewRequest(req.UserID, msg, req.Conversation, s.historyLimit), func(delta string) error {
		firstDelta.Do(func() { s.metrics.ObserveStage(observability.StageFirstDelta, time.Since(start)) })
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		s.metrics.ObserveBrainError("stream")
		s.metrics.ObserveChatTurn(resp.Provider, "error")
		if ctx.Err() == nil {
			log.Error("generate reply failed", zap.Error(err))
		}
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}
	s.metrics.ObserveStage(observability.StageReplyTotal, time.Since(start))

	out := Reply{
		Text:     strings.TrimSpace(resp.Text),
		Provider: resp.Provider,
		Crisis:   crisis.Flagged,
	}
	if crisis.Flagged {
		out.CrisisMessage = safety.CrisisMessage
		s.metrics.ObserveCrisis()
		log.Warn("crisis language detected", zap.String("user_id", req.UserID), zap.String("reason", crisis.Reason))
	}

	if req.UserID != "" {
		out.ConversationID = s.persist(ctx, log, req.UserID, msg, out)
	}

	s.metrics.ObserveChatTurn(resp.Provider, "ok")
	log.Debug("chat turn complete",
		zap.String("provider", resp.Provider),
		zap.Int("history", len(req.Conversation)),
		zap.String("preview", safety.Preview(msg, 48)),
	)
	return out, nil
}

func (s *Service) persist(ctx context.Context, log *zap.Logger, userID, msg string, reply Reply) string {
	// The reply already reached the user; finish the write even if they hang up.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	start := time.Now()
	ex := domain.Exchange{
		User:      domain.Message{Role: domain.RoleUser, Content: msg},
		Assistant: domain.Message{Role: domain.RoleAssistant, Content: reply.Text},
		Crisis:    reply.Crisis,
	}
	conv, err := s.store.AppendExchange(pctx, userID, ex, s.now(), s.mergeWindow)
	if err != nil {
		s.metrics.ObservePersistError("conversation")
		log.Error("save chat session failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	s.metrics.ObserveStage(observability.StagePersist, time.Since(start))
	return conv.ID
}
