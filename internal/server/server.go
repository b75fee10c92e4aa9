// Package server exposes the ask pipeline over HTTP: rate limiting, response
// caching, upload endpoints, and the status-code mapping for pipeline
// errors.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/clash402/dataghost/internal/ask"
	"github.com/clash402/dataghost/internal/askcache"
	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/ratelimit"
	"github.com/clash402/dataghost/internal/sqlexec"
)

// Server wires the pipeline and its collaborators behind a chi router.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	pipeline *ask.Pipeline
	cache    *askcache.Cache
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	router   chi.Router
}

// New builds a server. The provider is injectable so tests can run against
// the mock.
func New(cfg *config.Config, database *db.DB, provider llm.Provider, logger *log.Logger) *Server {
	timeout := time.Duration(cfg.QueryTimeoutSeconds * float64(time.Second))
	pipeline := &ask.Pipeline{
		DB:        database,
		Cfg:       cfg,
		Router:    llm.NewRouter(cfg, database, provider, logger),
		Executor:  sqlexec.New(database, timeout, cfg.QueryMaxRows),
		Retriever: rag.NewRetriever(database),
		Logger:    logger,
	}

	s := &Server{
		cfg:      cfg,
		db:       database,
		pipeline: pipeline,
		cache:    askcache.New(),
		limiter:  ratelimit.New(),
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/ask", s.handleAsk)
	r.Post("/upload/dataset", s.handleUploadDataset)
	r.Post("/upload/context", s.handleUploadContext)
	return r
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving HTTP until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type requestIDKey struct{}

// requestIDMiddleware honors an inbound X-Request-Id, otherwise generates a
// fresh UUID, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// clientIP resolves the caller identity for rate limiting: the first
// X-Forwarded-For hop when present, else the connection peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
