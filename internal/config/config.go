package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the support service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string
	Timezone         string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LLMProvider   string
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMHTTPURL    string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	ResendAPIKey  string
	ResendBaseURL string
	FromEmail     string
	PublicURL     string

	SessionMergeWindow  time.Duration
	JanitorInterval     time.Duration
	AuthTokenTTL        time.Duration
	ProgressWindowDays  int
	ProgressCacheTTL    time.Duration
	ChatContextMessages int
	HistorySessionLimit int
	HistoryCheckinLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "confidant"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		Timezone:         envOrDefault("APP_TIMEZONE", "UTC"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		RedisAddr:        stringsTrimSpace("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		LLMProvider:      strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMAPIKey:        stringsTrimSpace("LLM_API_KEY"),
		// Gemini exposes an OpenAI-compatible surface; any compatible endpoint works.
		LLMBaseURL:    envOrDefault("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMModel:      envOrDefault("LLM_MODEL", "gemini-1.5-flash"),
		LLMHTTPURL:    stringsTrimSpace("LLM_HTTP_URL"),
		ResendAPIKey:  stringsTrimSpace("RESEND_API_KEY"),
		ResendBaseURL: envOrDefault("RESEND_BASE_URL", "https://api.resend.com"),
		FromEmail:     envOrDefault("FROM_EMAIL", "Confidant <onboarding@resend.dev>"),
		PublicURL:     envOrDefault("APP_PUBLIC_URL", "http://localhost:8080"),

		ShutdownTimeout:     15 * time.Second,
		LLMTimeout:          60 * time.Second,
		LLMMaxRetries:       2,
		SessionMergeWindow:  30 * time.Minute,
		JanitorInterval:     time.Minute,
		AuthTokenTTL:        720 * time.Hour,
		ProgressWindowDays:  30,
		ProgressCacheTTL:    5 * time.Minute,
		ChatContextMessages: 20,
		HistorySessionLimit: 50,
		HistoryCheckinLimit: 100,
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = stringsTrimSpace("GOOGLE_AI_API_KEY")
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxRetries, err = intFromEnv("LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMergeWindow, err = durationFromEnv("SESSION_MERGE_WINDOW", cfg.SessionMergeWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AuthTokenTTL, err = durationFromEnv("AUTH_TOKEN_TTL", cfg.AuthTokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ProgressWindowDays, err = intFromEnv("PROGRESS_WINDOW_DAYS", cfg.ProgressWindowDays)
	if err != nil {
		return Config{}, err
	}
	cfg.ProgressCacheTTL, err = durationFromEnv("PROGRESS_CACHE_TTL", cfg.ProgressCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatContextMessages, err = intFromEnv("CHAT_CONTEXT_MESSAGES", cfg.ChatContextMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.HistorySessionLimit, err = intFromEnv("HISTORY_SESSION_LIMIT", cfg.HistorySessionLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryCheckinLimit, err = intFromEnv("HISTORY_CHECKIN_LIMIT", cfg.HistoryCheckinLimit)
	if err != nil {
		return Config{}, err
	}

	switch cfg.LLMProvider {
	case "auto", "openai", "http", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto, openai, http, mock")
	}
	if cfg.LLMProvider == "openai" && cfg.LLMAPIKey == "" {
		return Config{}, fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER=openai")
	}
	if cfg.LLMProvider == "http" && cfg.LLMHTTPURL == "" {
		return Config{}, fmt.Errorf("LLM_HTTP_URL is required when LLM_PROVIDER=http")
	}
	if cfg.LLMMaxRetries < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.SessionMergeWindow < time.Minute {
		return Config{}, fmt.Errorf("SESSION_MERGE_WINDOW must be at least 1m")
	}
	if cfg.JanitorInterval < time.Second {
		return Config{}, fmt.Errorf("JANITOR_INTERVAL must be at least 1s")
	}
	if cfg.AuthTokenTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}
	if cfg.ProgressWindowDays <= 0 || cfg.ProgressWindowDays > 366 {
		return Config{}, fmt.Errorf("PROGRESS_WINDOW_DAYS must be in 1..366")
	}
	if cfg.ProgressCacheTTL < 0 {
		return Config{}, fmt.Errorf("PROGRESS_CACHE_TTL must be >= 0")
	}
	if cfg.ChatContextMessages <= 0 {
		return Config{}, fmt.Errorf("CHAT_CONTEXT_MESSAGES must be positive")
	}
	if cfg.HistorySessionLimit <= 0 || cfg.HistoryCheckinLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_SESSION_LIMIT and HISTORY_CHECKIN_LIMIT must be positive")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Location resolves Timezone. Load already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
