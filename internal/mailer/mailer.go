package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/reliability"
)

// Mailer sends transactional email.
type Mailer interface {
	SendWelcome(ctx context.Context, email, name string) error
}

type Config struct {
	APIKey     string
	BaseURL    string
	From       string
	PublicURL  string
	Timeout    time.Duration
	RetryCount int
}

// New returns a Resend-backed mailer when an API key is configured, otherwise
// one that only logs.
func New(cfg Config, logger *zap.Logger) Mailer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewNoopMailer(logger)
	}
	return NewResendMailer(cfg, logger)
}

type ResendMailer struct {
	client    *resty.Client
	from      string
	publicURL string
	logger    *zap.Logger
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResult struct {
	ID string `json:"id"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func NewResendMailer(cfg Config, logger *zap.Logger) *ResendMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.RetryCount
	if retries <= 0 {
		retries = 3
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetAuthToken(strings.TrimSpace(cfg.APIKey)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return reliability.IsRetryableError(err)
			}
			return r != nil && reliability.IsRetryableHTTPStatus(r.StatusCode())
		})

	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "Confidant <onboarding@resend.dev>"
	}
	return &ResendMailer{
		client:    client,
		from:      from,
		publicURL: strings.TrimSpace(cfg.PublicURL),
		logger:    logger,
	}
}

func (m *ResendMailer) SendWelcome(ctx context.Context, email, name string) error {
	html, err := renderWelcome(welcomeData{Name: name, AppURL: m.publicURL})
	if err != nil {
		return err
	}

	var result sendResult
	var failure apiError
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(sendRequest{
			From:    m.from,
			To:      []string{email},
			Subject: welcomeSubject,
			HTML:    html,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("send welcome email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send welcome email: status %d: %s", resp.StatusCode(), failure.Message)
	}

	m.logger.Info("welcome email sent", zap.String("message_id", result.ID))
	return nil
}

// NoopMailer drops messages. Used when no provider is configured.
type NoopMailer struct {
	logger *zap.Logger
}

func NewNoopMailer(logger *zap.Logger) *NoopMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopMailer{logger: logger}
}

func (m *NoopMailer) SendWelcome(context.Context, string, string) error {
	m.logger.Warn("email provider not configured, skipping welcome email")
	return nil
}

const welcomeSubject = "Welcome to Confidant"

type welcomeData struct {
	Name   string
	AppURL string
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="margin: 0; font-size: 26px;">Welcome to Confidant</h1>
  <p>Hi {{.Name}},</p>
  <p>Thank you for signing up. Here is what you can do now:</p>
  <ul>
    <li>Talk through how you are feeling in a private chat</li>
    <li>Track your mood and stress with quick check-ins</li>
    <li>Watch your progress over time</li>
  </ul>
  {{if .AppURL}}<p><a href="{{.AppURL}}">Start your first session</a></p>{{end}}
  <p style="color: #999; font-size: 12px;">You received this email because an account was created with this address. If that was not you, ignore this message.</p>
</div>`))

func renderWelcome(data welcomeData) (string, error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render welcome email: %w", err)
	}
	return buf.String(), nil
}
