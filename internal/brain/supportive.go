package brain

import (
	"context"
	"strings"

	"github.com/antoniostano/confidant/internal/domain"
)

const supportiveRecentMessages = 3

var supportiveReplies = []struct {
	keywords []string
	reply    string
}{
	{
		[]string{"anxious", "stress"},
		"I can see you've been dealing with anxiety and stress. It sounds like this has been building up. What specific aspect feels most overwhelming right now? Sometimes breaking it down helps us see it more clearly.",
	},
	{
		[]string{"work", "job"},
		"Work stress can really take a toll. You've mentioned this a few times now. What would it look like to set some boundaries or take small steps toward feeling more in control?",
	},
	{
		[]string{"relationship", "friend"},
		"Relationships can be complex and challenging. I'm hearing that this is really affecting you. What feels most important to address first? Sometimes starting with one small thing can make a big difference.",
	},
	{
		[]string{"presentation", "speaking"},
		"Presentations can be really nerve-wracking. I can hear how much this is affecting you. What specifically about the presentation feels most challenging? Sometimes understanding the root of our anxiety helps us address it.",
	},
}

const supportiveDefault = "I'm here with you, and I can see this has been weighing on you. Based on what you've shared, what feels most present or urgent right now? I want to make sure we're focusing on what matters most to you."

// SupportiveAdapter answers from a fixed set of replies keyed on the user's
// recent messages. It never fails and needs no network.
type SupportiveAdapter struct{}

func NewSupportiveAdapter() *SupportiveAdapter { return &SupportiveAdapter{} }

func (a *SupportiveAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := SupportiveReply(req)
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Provider: ProviderSupportive}, nil
}

// SupportiveReply picks a reply from the last three user messages, the
// current one included. Earlier rules win.
func SupportiveReply(req Request) string {
	var recent []string
	for _, m := range req.History {
		if m.Role == domain.RoleUser {
			recent = append(recent, strings.ToLower(m.Content))
		}
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		recent = append(recent, strings.ToLower(msg))
	}
	if len(recent) > supportiveRecentMessages {
		recent = recent[len(recent)-supportiveRecentMessages:]
	}

	for _, rule := range supportiveReplies {
		for _, text := range recent {
			for _, kw := range rule.keywords {
				if strings.Contains(text, kw) {
					return rule.reply
				}
			}
		}
	}
	return supportiveDefault
}
