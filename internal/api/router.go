package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digitalrelab/star-export/internal/api/handler"
	mw "github.com/digitalrelab/star-export/internal/api/middleware"
	"github.com/digitalrelab/star-export/internal/auth"
	"github.com/digitalrelab/star-export/internal/config"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	exportHandler *handler.ExportHandler,
	authHandler *handler.AuthHandler,
	healthHandler *handler.HealthHandler,
	sessions *auth.Sessions,
	cfg config.ServerConfig,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(mw.CORS(cfg.FrontendURL))
	r.Use(mw.RateLimit(cfg.RateLimit))

	// Health endpoint (no auth)
	r.Get("/health", healthHandler.Live)

	// OAuth flows run over browser redirects and stay unauthenticated.
	r.Route("/auth", func(r chi.Router) {
		r.Get("/status", authHandler.Status)
		r.Post("/logout", authHandler.Logout)
		r.Get("/{provider}", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)
	})

	// Export API (session required)
	r.Route("/api", func(r chi.Router) {
		r.Use(mw.SessionAuth(sessions))

		r.Post("/export", exportHandler.Start)
		r.Delete("/export/{jobID}", exportHandler.Cancel)
		r.Get("/status/platform/{platform}", exportHandler.PlatformStatus)
		r.Get("/status/{jobID}", exportHandler.Status)
		r.Get("/history", exportHandler.History)
		r.Get("/exports/{jobID}/{filename}", exportHandler.Download)
	})

	return r
}
