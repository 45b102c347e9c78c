package rest

import (
	"database/sql"
	"log/slog"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/backend"
	"github.com/frahmantamala/viso/internal/core/events"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/overview"
	"github.com/frahmantamala/viso/internal/profile"
	"github.com/frahmantamala/viso/internal/roleoverride"
	"github.com/frahmantamala/viso/internal/transport"
	"github.com/frahmantamala/viso/internal/transport/middleware"
	"github.com/go-chi/chi"
)

// NewRouter assembles every auth layer and handler from cfg. db may be nil.
func NewRouter(cfg *internal.Config, factory *backend.Factory, db *sql.DB, openAPI []byte, logger *slog.Logger) *chi.Mux {
	base := transport.NewBaseHandler(logger)

	bus := events.NewEventBus(logger)
	events.SubscribeAudit(bus, logger)

	resolver := roleoverride.NewResolver(roleoverride.Config{
		CookieName:      cfg.Auth.OverrideCookie,
		PrivilegedRoles: cfg.Auth.PrivilegedRoles,
		ValidateTarget:  cfg.Auth.ValidateOverrideTarget,
	}, logger)

	g := guard.New(factory.Client, resolver, guard.Config{
		LoginPath:    cfg.Auth.LoginPath,
		NoAccessPath: cfg.Auth.NoAccessPath,
		CookieDomain: cfg.Auth.CookieDomain,
	}, logger)

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	// operational endpoints never carry a browser session
	excluded := append([]string{"swagger", "openapi.yml", metricsPath}, cfg.Auth.ExcludedPaths...)
	gate := middleware.NewEdgeGate(factory.Identity, middleware.EdgeGateConfig{
		CookiePrefix:  cfg.Auth.CookiePrefix,
		CookieDomain:  cfg.Auth.CookieDomain,
		LoginPath:     cfg.Auth.LoginPath,
		ExcludedPaths: excluded,
		Debug:         cfg.Auth.Debug,
	}, logger)

	router := chi.NewRouter()
	RegisterAllRoutes(router, RouterDeps{
		AppID:        cfg.Auth.AppID,
		DB:           db,
		Provider:     factory.ProviderState,
		Gate:         gate,
		Synchronizer: auth.NewSynchronizer(factory.Identity, cfg.Auth.CookiePrefix, cfg.Auth.CookieDomain, logger),
		Guard:        g,
		OpenAPI:      openAPI,
		MetricsPath:  metricsPath,
		Logger:       logger,
	}, Handlers{
		Auth: auth.NewHandler(base, factory.Identity, auth.HandlerConfig{
			CookiePrefix:  cfg.Auth.CookiePrefix,
			CookieDomain:  cfg.Auth.CookieDomain,
			ShellLoginURL: cfg.Auth.ShellLoginURL,
		}),
		Profile: profile.NewHandler(base, resolver, profile.Config{
			AppID:        cfg.Auth.AppID,
			CookieDomain: cfg.Auth.CookieDomain,
			Events:       bus,
		}),
		Overview: overview.NewHandler(base),
	})
	return router
}
