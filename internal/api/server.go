package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/securebridge/securebridge/internal/api/middleware"
	"github.com/securebridge/securebridge/internal/config"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/orchestrator"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router       *chi.Mux
	db           *database.DB
	store        *database.Store
	orc          *orchestrator.Orchestrator
	cfg          *config.Config
	limiter      *middleware.IPRateLimiter
	writeLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(db *database.DB, store *database.Store, orc *orchestrator.Orchestrator, cfg *config.Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		db:           db,
		store:        store,
		orc:          orc,
		cfg:          cfg,
		limiter:      middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		writeLimiter: middleware.NewIPRateLimiter(middleware.WriteRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
	s.writeLimiter.Stop()
}

// MountMetrics exposes a metrics scrape handler at /metrics.
func (s *Server) MountMetrics(h http.Handler) {
	s.router.Handle("/metrics", h)
}

// routes configures the middleware stack and mounts all endpoints.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.RateLimit(s.limiter))

	r.Get("/health", s.handleHealth)
	r.Get("/is-ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Route("/order", func(r chi.Router) {
			// The mutating endpoints dial out through the PBX, so they get
			// the stricter per-IP budget.
			r.With(middleware.RateLimit(s.writeLimiter)).Post("/create", s.handleOrderCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.With(middleware.RateLimit(s.writeLimiter)).Post("/execute", s.handleOrderExecute)
				r.Get("/status", s.handleOrderStatus)
				r.Get("/events", s.handleOrderEvents)
			})
		})

		r.Get("/call/{id}/status", s.handleCallStatus)

		r.Get("/trunks", s.handleTrunks)
		r.Get("/trunk/{name}/status", s.handleTrunkStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}
