package brain

import (
	"strings"

	"github.com/antoniostano/confidant/internal/domain"
)

// DefaultHistoryLimit is how many prior user/assistant messages go into a prompt.
const DefaultHistoryLimit = 20

const SystemPrompt = `You are a compassionate, professional AI therapist. Your role is to:

1. **Listen and Validate**: Acknowledge feelings and experiences without judgment
2. **Ask Insightful Questions**: Help users explore their thoughts and feelings deeper
3. **Provide Support**: Offer gentle guidance and coping strategies
4. **Maintain Boundaries**: Never give medical advice or crisis instructions
5. **Build on Context**: Remember previous conversation and build meaningful dialogue
6. **Be Human**: Respond naturally, not robotically - show genuine care

IMPORTANT: If someone mentions self-harm, suicide, or immediate crisis, respond with:
"I'm very concerned about what you're sharing. Your safety is the most important thing right now. Please call the National Suicide Prevention Lifeline at 988 or 911 immediately. You're not alone, and help is available."

Keep responses conversational, supportive, and focused on the user's emotional well-being.`

// TrimHistory keeps the last limit user/assistant messages with non-empty
// content. System messages supplied by clients are dropped.
func TrimHistory(messages []domain.Message, limit int) []domain.Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, domain.Message{Role: m.Role, Content: m.Content})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// NewRequest assembles a prompt with the default system prompt.
func NewRequest(userID, message string, history []domain.Message, limit int) Request {
	return Request{
		UserID:       userID,
		SystemPrompt: SystemPrompt,
		History:      TrimHistory(history, limit),
		Message:      strings.TrimSpace(message),
	}
}
