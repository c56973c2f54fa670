package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/confidant/internal/domain"
)

// Request is the normalized prompt sent to a model backend.
type Request struct {
	UserID       string           `json:"user_id,omitempty"`
	SystemPrompt string           `json:"system_prompt"`
	History      []domain.Message `json:"history,omitempty"`
	Message      string           `json:"input_text"`
}

// Response is the final reply after streaming deltas.
type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter produces a supportive reply, streaming partial text as it arrives.
type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

const (
	ProviderOpenAI     = "openai"
	ProviderHTTP       = "http"
	ProviderSupportive = "supportive"
)

// Config controls adapter construction.
type Config struct {
	Mode             string
	APIKey           string
	BaseURL          string
	Model            string
	HTTPURL          string
	Timeout          time.Duration
	MaxRetries       int
	HTTPStreamStrict bool
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("api key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("http url is required for http mode")
		}
		return NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStreamStrict, cfg.Timeout, cfg.MaxRetries), nil
	case "mock":
		return NewSupportiveAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

// newAutoAdapter prefers a hosted model and keeps the keyword replies as a
// safety net so a chat turn always gets an answer.
func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewFallbackAdapter(NewOpenAIAdapter(cfg), NewSupportiveAdapter())
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewFallbackAdapter(
			NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStreamStrict, cfg.Timeout, cfg.MaxRetries),
			NewSupportiveAdapter(),
		)
	}
	return NewSupportiveAdapter()
}
