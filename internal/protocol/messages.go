package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage      MessageType = "client_message"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeCrisisNotice       MessageType = "crisis_notice"
	TypeErrorEvent         MessageType = "error_event"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrEmptyText       = errors.New("client_message text is required")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// HistoryMessage is a prior turn supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ClientMessage struct {
	Type         MessageType      `json:"type"`
	TurnID       string           `json:"turn_id,omitempty"`
	Text         string           `json:"text"`
	Conversation []HistoryMessage `json:"conversation,omitempty"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type           MessageType `json:"type"`
	TurnID         string      `json:"turn_id"`
	Text           string      `json:"text"`
	Provider       string      `json:"provider"`
	Crisis         bool        `json:"crisis"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

type CrisisNotice struct {
	Type    MessageType `json:"type"`
	TurnID  string      `json:"turn_id"`
	Message string      `json:"message"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypeClientMessage {
		return ClientMessage{}, ErrUnsupportedType
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return ClientMessage{}, ErrEmptyText
	}
	return msg, nil
}
