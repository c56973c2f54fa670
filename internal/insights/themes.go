package insights

import (
	"sort"
	"strings"

	"github.com/antoniostano/confidant/internal/domain"
)

// MaxThemes is the number of themes reported for a history.
const MaxThemes = 6

// Vocabulary lists the emotional states and life-stress topics recognized as themes.
// Declaration order breaks ties between equally frequent themes.
var Vocabulary = []string{
	"anxiety", "stress", "work", "family", "relationship", "sleep", "exercise",
	"depression", "anger", "fear", "confidence", "goals", "future", "past",
	"presentation", "meeting", "deadline", "pressure", "overwhelmed", "lonely",
	"happy", "sad", "excited", "nervous", "calm", "frustrated", "grateful",
}

// ExtractThemes ranks vocabulary terms by the number of conversations whose text
// contains them and returns at most limit terms with a non-zero count.
//
// Matching is a plain lowercase substring test, so "sad" also matches "sadly" and
// "past" matches "pasta". A term counts at most once per conversation.
func ExtractThemes(conversations []domain.Conversation, vocabulary []string, limit int) []string {
	out := []string{}
	if len(conversations) == 0 || len(vocabulary) == 0 || limit <= 0 {
		return out
	}

	counts := make([]int, len(vocabulary))
	for _, conv := range conversations {
		text := transcript(conv)
		for i, term := range vocabulary {
			if strings.Contains(text, term) {
				counts[i]++
			}
		}
	}

	order := make([]int, len(vocabulary))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})

	for _, idx := range order {
		if len(out) == limit || counts[idx] == 0 {
			break
		}
		out = append(out, vocabulary[idx])
	}
	return out
}

func transcript(conv domain.Conversation) string {
	parts := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		parts = append(parts, m.Content)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
