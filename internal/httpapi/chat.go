package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/auth"
	"github.com/antoniostano/confidant/internal/chat"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 64 << 10
	maxTranscript  = 100
)

type chatRequest struct {
	Message      string                    `json:"message"`
	Conversation []protocol.HistoryMessage `json:"conversation,omitempty"`
}

type chatResponse struct {
	Success        bool   `json:"success"`
	Response       string `json:"response"`
	Crisis         bool   `json:"crisis"`
	CrisisMessage  string `json:"crisisMessage,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	userID, _ := auth.UserIDFrom(r.Context())

	reply, err := s.chat.Reply(r.Context(), chat.Request{
		UserID:       userID,
		Message:      req.Message,
		Conversation: toHistory(req.Conversation),
	}, nil)
	if err != nil {
		s.respondServiceError(w, err, "Failed to process message")
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		Success:        true,
		Response:       reply.Text,
		Crisis:         reply.Crisis,
		CrisisMessage:  reply.CrisisMessage,
		ConversationID: reply.ConversationID,
	})
}

// handleChatWS streams replies over a websocket. Turns on one connection run
// sequentially; the connection keeps its own transcript when the client does
// not send one.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat not configured")
		return
	}
	userID, _ := auth.UserIDFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.ClientMessage, 16)
	outbound := make(chan any, 256)
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	turnsDone := make(chan struct{})
	go func() {
		defer close(turnsDone)
		s.runTurns(ctx, userID, inbound, send)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}:
			default:
				// Writes stay single-threaded; drop when the queue is saturated.
			}
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(msg.Type))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	cancel()
	close(inbound)
	<-turnsDone
	<-writerDone
}

func (s *Server) runTurns(ctx context.Context, userID string, inbound <-chan protocol.ClientMessage, send func(any) bool) {
	var transcript []domain.Message
	for msg := range inbound {
		if ctx.Err() != nil {
			continue
		}
		turnID := strings.TrimSpace(msg.TurnID)
		if turnID == "" {
			turnID = uuid.NewString()
		}
		history := transcript
		if len(msg.Conversation) > 0 {
			history = toHistory(msg.Conversation)
		}

		reply, err := s.chat.Reply(ctx, chat.Request{
			UserID:       userID,
			Message:      msg.Text,
			Conversation: history,
		}, func(delta string) error {
			if !send(protocol.AssistantTextDelta{Type: protocol.TypeAssistantTextDelta, TurnID: turnID, TextDelta: delta}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			code, retryable := "chat_failed", true
			if errors.Is(err, chat.ErrInvalidMessage) {
				code, retryable = "invalid_message", false
			} else {
				s.logger.Warn("websocket chat turn failed", zap.String("turn_id", turnID), zap.Error(err))
			}
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				TurnID:    turnID,
				Code:      code,
				Retryable: retryable,
				Detail:    err.Error(),
			})
			continue
		}

		if reply.Crisis {
			send(protocol.CrisisNotice{Type: protocol.TypeCrisisNotice, TurnID: turnID, Message: reply.CrisisMessage})
		}
		send(protocol.AssistantTurnEnd{
			Type:           protocol.TypeAssistantTurnEnd,
			TurnID:         turnID,
			Text:           reply.Text,
			Provider:       reply.Provider,
			Crisis:         reply.Crisis,
			ConversationID: reply.ConversationID,
		})
		transcript = append(history,
			domain.Message{Role: domain.RoleUser, Content: strings.TrimSpace(msg.Text)},
			domain.Message{Role: domain.RoleAssistant, Content: reply.Text},
		)
		if len(transcript) > maxTranscript {
			transcript = transcript[len(transcript)-maxTranscript:]
		}
	}
}

func toHistory(in []protocol.HistoryMessage) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		out = append(out, domain.Message{Role: domain.Role(strings.ToLower(strings.TrimSpace(m.Role))), Content: m.Content})
	}
	return out
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.CrisisNotice:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
