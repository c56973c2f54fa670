package safety

import (
	"regexp"
	"strings"
)

// CrisisMessage is shown alongside any reply to a message that mentions
// self-harm or an immediate crisis.
const CrisisMessage = "I'm very concerned about what you're sharing. Your safety is the most important thing right now. " +
	"Please call the National Suicide Prevention Lifeline at 988 or 911 immediately. " +
	"You're not alone, and help is available."

type CrisisDecision struct {
	Flagged bool
	Reason  string
}

var (
	crisisPatterns = []struct {
		reason string
		re     *regexp.Regexp
	}{
		{"suicide", regexp.MustCompile(`(?i)\bsuicid(e|al)\b`)},
		{"suicide", regexp.MustCompile(`(?i)\b(kill|end)(ing)?\s+(myself|my\s+life|it\s+all)\b`)},
		{"suicide", regexp.MustCompile(`(?i)\b(want|wanna|going|plan(ning)?)\s+to\s+die\b`)},
		{"suicide", regexp.MustCompile(`(?i)\b(don'?t|do\s+not)\s+want\s+to\s+(live|be\s+alive|wake\s+up)\b`)},
		{"suicide", regexp.MustCompile(`(?i)\bbetter\s+off\s+(dead|without\s+me)\b`)},
		{"self-harm", regexp.MustCompile(`(?i)\bself[\s-]?harm(ing)?\b`)},
		{"self-harm", regexp.MustCompile(`(?i)\b(cut|cutting|hurt|hurting|harm|harming)\s+myself\b`)},
		{"overdose", regexp.MustCompile(`(?i)\boverdos(e|ing)\b`)},
	}
	// Phrases that mention the vocabulary without describing a personal crisis.
	crisisNegations = []string{
		"suicide prevention",
		"suicide awareness",
		"not suicidal",
		"never hurt myself",
		"would never kill myself",
	}
)

// DetectCrisis reports whether text describes self-harm, suicidal intent or a
// comparable emergency.
func DetectCrisis(text string) CrisisDecision {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return CrisisDecision{}
	}
	for _, neg := range crisisNegations {
		in = strings.ReplaceAll(in, neg, " ")
	}
	for _, p := range crisisPatterns {
		if p.re.MatchString(in) {
			return CrisisDecision{Flagged: true, Reason: p.reason}
		}
	}
	return CrisisDecision{}
}
