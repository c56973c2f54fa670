package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/auth"
	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/chat"
	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/observability"
	"github.com/antoniostano/confidant/internal/progress"
	"github.com/antoniostano/confidant/internal/store"
)

const readyTimeout = 2 * time.Second

// Dependency is a backend probed by /readyz.
type Dependency interface {
	Ping(ctx context.Context) error
	Mode() string
}

// Deps are the services the router dispatches to.
type Deps struct {
	Chat     *chat.Service
	Progress *progress.Service
	Auth     *auth.Service
	Brain    brain.Adapter
	Store    Dependency
	Cache    Dependency
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	progress *progress.Service
	auth     *auth.Service
	brain    brain.Adapter
	store    Dependency
	cache    Dependency
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		chat:     deps.Chat,
		progress: deps.Progress,
		auth:     deps.Auth,
		brain:    deps.Brain,
		store:    deps.Store,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/signin", s.handleSignin)
		r.With(requireUser).Post("/auth/signout", s.handleSignout)

		r.Post("/chat", s.handleChat)
		r.Get("/chat/ws", s.handleChatWS)

		r.Post("/checkin", s.handleCheckin)
		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/progress", s.handleProgress)
			r.Get("/history", s.handleHistory)
			r.Get("/checkins/export", s.handleExportCheckins)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": modeOf(s.store),
		"cache_mode": modeOf(s.cache),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ready"}
	for name, dep := range map[string]Dependency{"store": s.store, "cache": s.cache} {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logger.Warn("readiness probe failed", zap.String("dependency", name), zap.Error(err))
			body[name] = err.Error()
			body["status"] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = dep.Mode()
	}
	respondJSON(w, status, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer != nil {
		observability.MetricsHandlerFor(s.gatherer).ServeHTTP(w, r)
		return
	}
	observability.MetricsHandler().ServeHTTP(w, r)
}

// observe records request metrics and a debug access log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, r.Method, status, elapsed)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowAnyOrigin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserIDFrom(r.Context()); !ok {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondServiceError maps service sentinels to HTTP statuses. Anything
// unrecognized is logged and reported as msg with a 500.
func (s *Server) respondServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, store.ErrEmailTaken):
		respondError(w, http.StatusBadRequest, "email_taken", "User with this email already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, auth.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
	case errors.Is(err, chat.ErrInvalidMessage), errors.Is(err, progress.ErrInvalidCheckin):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Not found")
	default:
		s.logger.Error(msg, zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func modeOf(dep Dependency) string {
	if dep == nil {
		return "disabled"
	}
	return dep.Mode()
}
