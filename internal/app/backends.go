package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/store"
)

type backendSetup struct {
	store  store.Store
	cache  cache.KVStore
	brain  brain.Adapter
	detail string
}

func (b backendSetup) cleanup() error {
	var errs []string
	if b.cache != nil {
		if err := b.cache.Close(); err != nil {
			errs = append(errs, "cache: "+err.Error())
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errs = append(errs, "store: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveBackends opens the store and cache and picks the model adapter.
// Anything opened before a failure is closed again.
func resolveBackends(ctx context.Context, cfg config.Config) (backendSetup, error) {
	var setup backendSetup

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return backendSetup{}, fmt.Errorf("store init failed: %w", err)
	}
	setup.store = st

	kv, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = setup.cleanup()
		return backendSetup{}, fmt.Errorf("cache init failed: %w", err)
	}
	setup.cache = kv

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:       cfg.LLMProvider,
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.LLMModel,
		HTTPURL:    cfg.LLMHTTPURL,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
	})
	if err != nil {
		_ = setup.cleanup()
		return backendSetup{}, fmt.Errorf("brain adapter init failed: %w", err)
	}
	setup.brain = adapter
	setup.detail = describeBrain(cfg)
	return setup, nil
}

func describeBrain(cfg config.Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	switch {
	case mode == "mock":
		return "supportive keyword replies"
	case mode == "openai" || (mode == "auto" && cfg.LLMAPIKey != ""):
		return "openai-compatible " + cfg.LLMModel
	case mode == "http" || (mode == "auto" && cfg.LLMHTTPURL != ""):
		return "http " + cfg.LLMHTTPURL
	default:
		return "supportive keyword replies (no LLM configured)"
	}
}
