package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicflow/scheduling-engine/internal/http/handlers"
	httpmiddleware "github.com/clinicflow/scheduling-engine/internal/http/middleware"
	"github.com/clinicflow/scheduling-engine/internal/realtime"
	"github.com/clinicflow/scheduling-engine/internal/tenancy"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Scheduling         *handlers.SchedulingHandler
	EventsHub          *realtime.Hub
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RateLimit requests/sec per org; zero disables limiting.
	RateLimit      float64
	RateLimitBurst int
}

// New creates a new chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Scheduling.HealthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Tenant-scoped API routes.
	r.Group(func(tenant chi.Router) {
		tenant.Use(requireOrgID)
		if cfg.RateLimit > 0 {
			tenant.Use(httpmiddleware.RateLimit(cfg.RateLimit, cfg.RateLimitBurst))
		}

		tenant.Route("/appointments", func(r chi.Router) {
			r.Post("/", cfg.Scheduling.Book)
			r.Get("/", cfg.Scheduling.List)
			r.Route("/{appointmentID}", func(r chi.Router) {
				r.Get("/", cfg.Scheduling.Get)
				r.Post("/reschedule", cfg.Scheduling.Reschedule)
				r.Post("/status", cfg.Scheduling.Transition)
			})
		})

		tenant.Get("/tasks/failed", cfg.Scheduling.ListFailedTasks)

		if cfg.EventsHub != nil {
			tenant.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
				orgID, _ := tenancy.OrgIDFromContext(r.Context())
				cfg.EventsHub.HandleWebSocket(orgID, w, r)
			})
		}
	})

	return r
}
