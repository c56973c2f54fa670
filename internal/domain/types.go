package domain

import "time"

// Rating and text bounds enforced at the API boundary.
const (
	MinRating        = 1
	MaxRating        = 10
	MaxNoteLength    = 500
	MaxNameLength    = 100
	MaxSummaryLength = 1000
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Checkin is a single mood/stress rating. UserID is empty for anonymous check-ins.
type Checkin struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Mood      int       `json:"mood"`
	Stress    int       `json:"stress"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Conversation is an append-only chat session between a user and the assistant.
type Conversation struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Messages   []Message  `json:"messages"`
	Summary    string     `json:"summary,omitempty"`
	CrisisFlag bool       `json:"crisisFlag"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// HasAssistantReply reports whether the assistant has answered at least once.
func (c Conversation) HasAssistantReply() bool {
	for _, m := range c.Messages {
		if m.Role == RoleAssistant {
			return true
		}
	}
	return false
}

// Exchange is one user turn and the assistant's answer, appended together.
type Exchange struct {
	User      Message
	Assistant Message
	Crisis    bool
}
