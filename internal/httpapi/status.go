package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/confidant/internal/brain"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	BrainProviders []string      `json:"brain_providers"`
	StoreMode      string        `json:"store_mode"`
	CacheMode      string        `json:"cache_mode"`
	EmailEnabled   bool          `json:"email_enabled"`
	Checks         []statusCheck `json:"checks"`
}

// handleStatus reports which backends are configured and how to upgrade the
// ones running in their local fallback mode.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	providers := brainProviders(s.brain)
	storeMode := modeOf(s.store)
	cacheMode := modeOf(s.cache)
	emailEnabled := strings.TrimSpace(s.cfg.ResendAPIKey) != ""

	checks := make([]statusCheck, 0, 4)
	if storeMode == "postgres" {
		checks = append(checks, statusCheck{ID: "store", Status: "ok", Label: "Persistence", Detail: storeMode})
	} else {
		checks = append(checks, statusCheck{
			ID:     "store",
			Status: "warn",
			Label:  "Persistence",
			Detail: storeMode,
			Fix:    "Set DATABASE_URL to keep accounts, check-ins and sessions across restarts.",
		})
	}
	if cacheMode == "redis" {
		checks = append(checks, statusCheck{ID: "cache", Status: "ok", Label: "Token and progress cache", Detail: cacheMode})
	} else {
		checks = append(checks, statusCheck{
			ID:     "cache",
			Status: "warn",
			Label:  "Token and progress cache",
			Detail: cacheMode,
			Fix:    "Set REDIS_ADDR so sign-ins survive restarts and scale across instances.",
		})
	}
	switch {
	case len(providers) == 0:
		checks = append(checks, statusCheck{ID: "brain", Status: "error", Label: "Language model", Detail: "not configured"})
	case providers[0] == brain.ProviderSupportive:
		checks = append(checks, statusCheck{
			ID:     "brain",
			Status: "warn",
			Label:  "Language model",
			Detail: "keyword replies only",
			Fix:    "Set LLM_API_KEY (or GOOGLE_AI_API_KEY) or LLM_HTTP_URL.",
		})
	default:
		checks = append(checks, statusCheck{ID: "brain", Status: "ok", Label: "Language model", Detail: strings.Join(providers, " -> ")})
	}
	if emailEnabled {
		checks = append(checks, statusCheck{ID: "email", Status: "ok", Label: "Welcome email", Detail: "resend"})
	} else {
		checks = append(checks, statusCheck{
			ID:     "email",
			Status: "warn",
			Label:  "Welcome email",
			Detail: "disabled",
			Fix:    "Set RESEND_API_KEY to send welcome emails.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		BrainProviders: providers,
		StoreMode:      storeMode,
		CacheMode:      cacheMode,
		EmailEnabled:   emailEnabled,
		Checks:         checks,
	})
}

func brainProviders(a brain.Adapter) []string {
	switch v := a.(type) {
	case nil:
		return nil
	case *brain.FallbackAdapter:
		return append(brainProviders(v.Primary()), brainProviders(v.Secondary())...)
	case *brain.OpenAIAdapter:
		return []string{brain.ProviderOpenAI}
	case *brain.HTTPAdapter:
		return []string{brain.ProviderHTTP}
	case *brain.SupportiveAdapter:
		return []string{brain.ProviderSupportive}
	default:
		return []string{"custom"}
	}
}
