package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
	"github.com/ignite/outreach-engine/internal/worker"
)

// Server is the HTTP front of the delivery engine: campaign CRUD and
// lifecycle, progress and analytics reads, the tracking-event ingest, and
// the scheduler trigger an external cron hits every few minutes.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	handler  http.Handler
	server   *http.Server
}

// NewServer builds the server and its route tree.
func NewServer(
	cfg config.ServerConfig,
	campaigns *campaign.Service,
	deliverySvc *delivery.Service,
	runner *worker.SchedulerRunner,
	triggerSecret string,
) *Server {
	h := &Handlers{
		campaigns:     campaigns,
		delivery:      deliverySvc,
		runner:        runner,
		triggerSecret: triggerSecret,
	}
	return &Server{
		cfg:      cfg,
		handlers: h,
		handler:  setupRoutes(h, cfg),
	}
}

func setupRoutes(h *Handlers, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/archive", h.ArchiveCampaign)
				r.Post("/process-now", h.ProcessNow)
				r.Get("/progress", h.CampaignProgress)
				r.Get("/analytics", h.CampaignAnalytics)
			})
		})

		// Provider webhooks and the tracking pixel/redirect service post
		// engagement signals here.
		r.Post("/tracking/events", h.TrackingEvent)

		// External cron trigger; guarded by the shared secret, not by the
		// user-facing auth in front of /api.
		r.Post("/scheduler/run", h.TriggerSchedulerRun)
	})

	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
