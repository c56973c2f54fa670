package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/auth"
	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/chat"
	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/httpapi"
	"github.com/antoniostano/confidant/internal/mailer"
	"github.com/antoniostano/confidant/internal/observability"
	"github.com/antoniostano/confidant/internal/progress"
	"github.com/antoniostano/confidant/internal/session"
	"github.com/antoniostano/confidant/internal/store"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Store       store.Store
	Cache       cache.KVStore
	Brain       brain.Adapter
	BrainDetail string
	Chat        *chat.Service
	Progress    *progress.Service
	Auth        *auth.Service
	Janitor     *session.Janitor
	Metrics     *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

type Options struct {
	// Registry defaults to the process-wide Prometheus registry.
	Registry *prometheus.Registry
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Options) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if o.Registry != nil {
		metrics = observability.NewMetricsWithRegistry(cfg.MetricsNamespace, o.Registry)
		gatherer = o.Registry
	} else {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	backends, err := resolveBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("backends ready",
		zap.String("store", backends.store.Mode()),
		zap.String("cache", backends.cache.Mode()),
		zap.String("brain", backends.detail),
	)

	loc := cfg.Location()
	mail := mailer.New(mailer.Config{
		APIKey:    cfg.ResendAPIKey,
		BaseURL:   cfg.ResendBaseURL,
		From:      cfg.FromEmail,
		PublicURL: cfg.PublicURL,
	}, logger.Named("mailer"))

	authSvc := auth.NewService(backends.store, backends.cache, auth.Options{
		TokenTTL: cfg.AuthTokenTTL,
		Mailer:   mail,
		Logger:   logger.Named("auth"),
		Metrics:  metrics,
	})
	chatSvc := chat.NewService(backends.brain, backends.store, chat.Options{
		HistoryLimit: cfg.ChatContextMessages,
		MergeWindow:  cfg.SessionMergeWindow,
		Logger:       logger.Named("chat"),
		Metrics:      metrics,
	})
	progressSvc := progress.NewService(backends.store, backends.cache, progress.Options{
		WindowDays:   cfg.ProgressWindowDays,
		CacheTTL:     cfg.ProgressCacheTTL,
		SessionLimit: cfg.HistorySessionLimit,
		CheckinLimit: cfg.HistoryCheckinLimit,
		Location:     loc,
		Logger:       logger.Named("progress"),
		Metrics:      metrics,
	})

	janitor := session.NewJanitor(backends.store, cfg.SessionMergeWindow, logger.Named("janitor"))
	janitor.SetExpireHook(metrics.ObserveSessionsEnded)

	api := httpapi.New(cfg, httpapi.Deps{
		Chat:     chatSvc,
		Progress: progressSvc,
		Auth:     authSvc,
		Brain:    backends.brain,
		Store:    backends.store,
		Cache:    backends.cache,
		Metrics:  metrics,
		Gatherer: gatherer,
		Logger:   logger.Named("http"),
	})

	cleanup := func() error {
		// Let in-flight welcome emails finish before the process exits.
		authSvc.Wait()
		return backends.cleanup()
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Store:       backends.store,
		Cache:       backends.cache,
		Brain:       backends.brain,
		BrainDetail: backends.detail,
		Chat:        chatSvc,
		Progress:    progressSvc,
		Auth:        authSvc,
		Janitor:     janitor,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}
