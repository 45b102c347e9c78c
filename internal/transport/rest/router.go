package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/overview"
	"github.com/frahmantamala/viso/internal/profile"
	"github.com/frahmantamala/viso/internal/transport/middleware"
	"github.com/frahmantamala/viso/internal/transport/swagger"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Auth     *auth.Handler
	Profile  *profile.Handler
	Overview *overview.Handler
}

type RouterDeps struct {
	AppID        string
	DB           *sql.DB
	Provider     ProviderState
	Gate         *middleware.EdgeGate
	Synchronizer *auth.Synchronizer
	Guard        *guard.Guard
	OpenAPI      []byte
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	Logger      *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps RouterDeps, h Handlers) {
	healthHandler := NewHealthHandler(deps.DB, deps.Provider)

	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	// Gate first so unauthenticated page loads never reach the synchronizer.
	// A gated request that passes is marked verified and the synchronizer
	// skips it, leaving one provider round trip in the gate and one in the
	// route guard. Excluded paths are synchronized normally.
	if deps.Gate != nil {
		router.Use(deps.Gate.Handler)
	}
	if deps.Synchronizer != nil {
		router.Use(deps.Synchronizer.Middleware)
	}

	if deps.OpenAPI != nil {
		router.Get(swagger.SpecPath, swagger.SpecHandler(deps.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}
	if deps.MetricsPath != "" {
		router.Handle(deps.MetricsPath, promhttp.Handler())
	}

	router.Get("/login", h.Auth.Login)
	router.Get("/no-access", h.Auth.NoAccess)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequirePermissions(deps.Guard, deps.AppID))
		r.Get("/", h.Overview.Home)
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Post("/auth/logout", h.Auth.Logout)

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.RequirePermissions(deps.Guard, deps.AppID))

			pr.Route("/role-override", func(rr chi.Router) {
				rr.Get("/", h.Profile.GetRoleOverride)
				rr.Put("/", h.Profile.SetRoleOverride)
				rr.Delete("/", h.Profile.ClearRoleOverride)
			})
			pr.Get("/permissions/check", h.Profile.CheckPermission)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
}
