// Package api is the HTTP surface of the service: session lifecycle,
// conversation turns, knowledge management, health, status and metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/character"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/orchestrator"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/topiccache"
)

// UserHeader carries the caller's user ID on session-scoped requests.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Conversations is the orchestrator surface the API needs.
// *orchestrator.Orchestrator implements it.
type Conversations interface {
	StartSession(ctx context.Context, userID, characterID string, personaID *string) (*session.Session, error)
	ResumeSession(ctx context.Context, sessionID, userID string) (*session.Session, error)
	LoadSession(ctx context.Context, sessionID, userID string) (*session.Session, error)
	ListSessions(ctx context.Context, userID, characterID string) ([]session.Summary, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// KnowledgeStore persists knowledge items added at runtime.
// *store.Store implements it.
type KnowledgeStore interface {
	SaveKnowledgeItem(ctx context.Context, item knowledge.Item) error
}

// Config holds the HTTP settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	// StorageBackend is reported by /status.
	StorageBackend string
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Conversations Conversations
	Characters    *character.Registry
	Index         *knowledge.Index
	Cache         *topiccache.Cache
	// Knowledge is optional; without it added items live in memory only.
	Knowledge KnowledgeStore
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	conv      Conversations
	chars     *character.Registry
	index     *knowledge.Index
	cache     *topiccache.Cache
	knowledge KnowledgeStore
	limiter   *UserRateLimiter
	logger    *slog.Logger
	startedAt time.Time

	router chi.Router
	server *http.Server
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		conv:      d.Conversations,
		chars:     d.Characters,
		index:     d.Index,
		cache:     d.Cache,
		knowledge: d.Knowledge,
		limiter:   NewUserRateLimiter(cfg.RateLimit),
		logger:    d.Logger,
		startedAt: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)
	r.Use(metricsMiddleware)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", UserHeader, trace.Header},
			ExposedHeaders: []string{trace.Header},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/resume", s.handleResumeSession)
				r.Post("/messages", s.handleTurn)
				r.Get("/cache", s.handleSessionCache)
			})
		})
		r.Route("/characters", func(r chi.Router) {
			r.Get("/", s.handleListCharacters)
			r.Get("/{characterID}/knowledge", s.handleSearchKnowledge)
			r.Post("/{characterID}/knowledge", s.handleAddKnowledge)
		})
	})
	return r
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener
// is established and shuts the server down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "err", err)
	}
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return observability.WithTrace(r.Context(), s.logger)
}

// traceMiddleware adopts the caller's trace ID or mints one, and echoes it
// back in the response header.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(trace.Header); id != "" {
			ctx = trace.WithTraceID(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		w.Header().Set(trace.Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

func traceID(r *http.Request) string {
	return trace.FromContext(r.Context())
}
