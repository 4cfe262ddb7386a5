package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulsedesk/pulsedesk/internal/clients"
	"github.com/pulsedesk/pulsedesk/internal/identity"
	"github.com/pulsedesk/pulsedesk/internal/observability"
	"github.com/pulsedesk/pulsedesk/internal/roles"
	"github.com/pulsedesk/pulsedesk/internal/users"
	"github.com/pulsedesk/pulsedesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *identity.Handler
	AuthMiddleware identity.Middleware
	RolesHandler   *roles.Handler
	UsersHandler   *users.Handler
	ClientsHandler *clients.Handler
	JobsHandler    *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with PulseDesk defaults. Every API
// route past /auth runs behind Authenticate; role administration is
// additionally full-access only.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(auth chi.Router) {
			params.AuthHandler.MountPublicRoutes(auth)
			auth.Group(func(protected chi.Router) {
				protected.Use(params.AuthMiddleware.Authenticate)
				params.AuthHandler.MountProtectedRoutes(protected)
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(params.AuthMiddleware.Authenticate)

			protected.Route("/roles", func(rr chi.Router) {
				rr.Use(params.AuthMiddleware.RequireFullAccess)
				params.RolesHandler.MountRoutes(rr)
			})
			protected.Route("/users", func(ur chi.Router) {
				params.UsersHandler.MountRoutes(ur, params.AuthMiddleware)
			})
			protected.Route("/clients", func(cr chi.Router) {
				params.ClientsHandler.MountRoutes(cr, params.AuthMiddleware)
			})
			if params.JobsHandler != nil {
				protected.Route("/admin/jobs", func(jr chi.Router) {
					jr.Use(params.AuthMiddleware.RequireFullAccess)
					params.JobsHandler.MountRoutes(jr)
				})
			}
		})
	})

	return r
}
