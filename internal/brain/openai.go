package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/antoniostano/confidant/internal/domain"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-1.5-flash"
)

// OpenAIAdapter streams chat completions from any OpenAI-compatible API.
type OpenAIAdapter struct {
	client openaigo.Client
	model  string
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(DefaultBaseURL, "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	client := openaigo.NewClient(
		option.WithBaseURL(baseURL+"/"),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(retries),
		option.WithRequestTimeout(timeout),
	)
	return &OpenAIAdapter{client: client, model: model}
}

func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(a.model),
		Messages: buildMessages(req),
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		var apiErr *openaigo.Error
		if errors.As(err, &apiErr) {
			return Response{}, fmt.Errorf("chat completion status %d: %w", apiErr.StatusCode, err)
		}
		return Response{}, fmt.Errorf("chat completion stream: %w", err)
	}

	return Response{Text: strings.TrimSpace(out.String()), Provider: ProviderOpenAI}, nil
}

func buildMessages(req Request) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		out = append(out, openaigo.SystemMessage(system))
	}
	for _, m := range req.History {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case domain.RoleAssistant:
			out = append(out, openaigo.AssistantMessage(content))
		case domain.RoleUser:
			out = append(out, openaigo.UserMessage(content))
		}
	}
	out = append(out, openaigo.UserMessage(strings.TrimSpace(req.Message)))
	return out
}
