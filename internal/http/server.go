package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lexledger/internal/ledger"
	"lexledger/internal/log"
	"lexledger/internal/middleware/ratelimit"
	"lexledger/internal/middleware/security"
	"lexledger/internal/middleware/trace"
	"lexledger/internal/reconcile"
	"lexledger/internal/reports"
)

// Pinger is the readiness probe of the storage layer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API exposes. Checker may be nil, in which case
// the reconcile routes are not mounted.
type Deps struct {
	Ledger             *ledger.Service
	Reports            *reports.Engine
	Checker            *reconcile.Checker
	DB                 Pinger
	Logger             *log.Logger
	RateLimitPerMinute int
	TrustedProxies     []string
}

type Server struct {
	http.Server
	ledger  *ledger.Service
	reports *reports.Engine
	checker *reconcile.Checker
	db      Pinger
	logger  *log.Logger

	clientIP    *security.ClientIP
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware
	now         func() time.Time

	shutdownOnce sync.Once
}

// NewServer wires the JSON API onto a chi router and returns a server ready
// to ListenAndServe.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	clientIP := security.NewClientIP()
	for _, cidr := range deps.TrustedProxies {
		if err := clientIP.AddTrustedProxy(cidr); err != nil {
			logger.WarnContext(context.Background(), "Ignoring invalid trusted proxy",
				"cidr", cidr, log.FieldError, err)
		}
	}

	rlConfig := ratelimit.DefaultConfig()
	if deps.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = deps.RateLimitPerMinute
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		ledger:      deps.Ledger,
		reports:     deps.Reports,
		checker:     deps.Checker,
		db:          deps.DB,
		logger:      logger,
		clientIP:    clientIP,
		rateLimiter: ratelimit.NewLimiter(rlConfig),
		tracer:      trace.NewMiddleware(logger, clientIP.Extract),
		now:         time.Now,
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware(s.clientIP.Extract, s.handleRateLimited))
		r.Use(requireActor)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", s.handleListEntries)
			r.Post("/", s.handleCreateEntry)
			r.Get("/{id}", s.handleGetEntry)
			r.Put("/{id}", s.handleEditEntry)
			r.Delete("/{id}", s.handleDeleteEntry)
		})

		r.Get("/cases/{caseID}/aggregate", s.handleCaseAggregate)
		r.Get("/aggregates/{year}", s.handleYearAggregate)
		r.Get("/activity", s.handleActivity)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/monthly", s.handleMonthlyReport)
			r.Get("/categories", s.handleCategoryReport)
			r.Get("/cases", s.handleCaseRanking)
			r.Get("/transactions", s.handleRecentTransactions)
			r.Get("/yearly", s.handleYearlyReport)
		})

		if s.checker != nil {
			r.Route("/reconcile", func(r chi.Router) {
				r.Get("/cases/{caseID}", s.handleReconcile(caseScopeParam))
				r.Post("/cases/{caseID}/repair", s.handleRepair(caseScopeParam))
				r.Get("/years/{year}", s.handleReconcile(yearScopeParam))
				r.Post("/years/{year}/repair", s.handleRepair(yearScopeParam))
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, r, http.StatusNotFound, "not_found", "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", "")
	})
	return r
}

// Metrics returns the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown stops the rate limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	writeErrorBody(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later", "")
}
