// Package http exposes the operator API: manual runs, status, history,
// confirmation, statistics and settings.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"npdbot/internal/cache"
	"npdbot/internal/middleware/ratelimit"
	"npdbot/internal/middleware/security"
	"npdbot/internal/middleware/trace"
	"npdbot/internal/services"
)

// RunFunc runs one ingestion cycle on demand.
type RunFunc func(ctx context.Context) (*services.CycleResult, error)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the server.
type Options struct {
	AdminToken     string
	TaxDescription string
	RunsPerMinute  int
	CacheSize      int
	CacheTTL       time.Duration
}

type Server struct {
	http.Server
	run            RunFunc
	registries     *services.RegistryService
	store          Pinger
	taxDescription string

	summaryCache *cache.LRUCache[[]byte]
	cacheManager *cache.Manager
	runLimiter   *ratelimit.Limiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Shutdown releases its background goroutines.
func NewServer(addr string, run RunFunc, registries *services.RegistryService, store Pinger, opts Options) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	mux := http.NewServeMux()
	clientIP := security.NewClientIP()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		run:            run,
		registries:     registries,
		store:          store,
		taxDescription: opts.TaxDescription,
		summaryCache:   cache.NewLRUCache[[]byte](opts.CacheSize, opts.CacheTTL),
		cacheManager:   cache.NewManager(),
		runLimiter:     ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RunsPerMinute}),
	}
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := http.NewServeMux()
	limited := s.runLimiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})
	api.Handle("POST /api/run", limited(http.HandlerFunc(s.handleRun)))
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("GET /api/history", s.handleHistory)
	api.HandleFunc("GET /api/pending", s.handlePending)
	api.HandleFunc("GET /api/registries/{date}", s.handleRegistry)
	api.HandleFunc("POST /api/registries/{date}/confirm", s.handleConfirm)
	api.HandleFunc("GET /api/stats/month", s.handleMonthStats)
	api.HandleFunc("GET /api/stats/year", s.handleYearStats)
	api.HandleFunc("GET /api/stats/all", s.handleAllStats)
	api.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	api.HandleFunc("PUT /api/settings/{key}", s.handlePutSetting)

	auth := security.BearerAuth(opts.AdminToken, func(w http.ResponseWriter, r *http.Request) {
		UnauthorizedError().Write(w)
	})
	mux.Handle("/api/", auth(api))

	headers := security.Headers(security.DefaultHeadersConfig())
	s.Handler = trace.NewMiddleware(clientIP.Extract).Middleware(headers(mux))
	return s
}

// InvalidateSummaries drops cached statistics. Called after anything that
// changes registry totals or status.
func (s *Server) InvalidateSummaries() {
	s.summaryCache.Purge()
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.runLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
