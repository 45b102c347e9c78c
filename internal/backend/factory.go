// Package backend builds the request-bound clients every auth layer uses.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/permission"
	permissionPostgres "github.com/frahmantamala/viso/internal/permission/postgres"
	"github.com/frahmantamala/viso/internal/roleoverride"
	"github.com/frahmantamala/viso/internal/supabase"
	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// Factory is built once per process. A nil transport means the provider is
// not configured and every build returns auth.ErrMissingConfig.
type Factory struct {
	transport *supabase.Transport
	mode      string
	rules     *permissionPostgres.RuleRepository
	sqlDB     *sqlx.DB
}

type Deps struct {
	GormDB *gorm.DB
	SQLDB  *sqlx.DB
	// HTTPClient overrides the provider HTTP client.
	HTTPClient *http.Client
}

func NewFactory(cfg *internal.Config, deps Deps, logger *slog.Logger) (*Factory, error) {
	f := &Factory{mode: cfg.Auth.Backend}

	if f.mode == internal.BackendPostgres {
		if deps.GormDB == nil || deps.SQLDB == nil {
			return nil, fmt.Errorf("backend %q requires a database connection", f.mode)
		}
		f.rules = permissionPostgres.NewRuleRepository(deps.GormDB)
		f.sqlDB = deps.SQLDB
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Supabase.HTTPTimeout}
	}

	tcfg := supabase.Config{
		URL:          cfg.Supabase.URL,
		Key:          cfg.Supabase.ProviderKey(),
		CookiePrefix: cfg.Auth.CookiePrefix,
		JWTSecret:    cfg.Supabase.JWTSecret,
		HTTPClient:   httpClient,
	}
	if cfg.Supabase.Breaker.Enabled {
		tcfg.Breaker = supabase.NewCircuitBreaker(supabase.BreakerConfig{
			Name:             "supabase",
			FailureThreshold: cfg.Supabase.Breaker.FailureThreshold,
			MaxRequests:      cfg.Supabase.Breaker.MaxRequests,
			Interval:         cfg.Supabase.Breaker.Interval,
			Timeout:          cfg.Supabase.Breaker.Timeout,
		}, logger)
	}

	transport, err := supabase.NewTransport(tcfg, logger)
	switch {
	case err == nil:
		f.transport = transport
	case errors.Is(err, auth.ErrMissingConfig):
		logger.Warn("identity provider not configured, every request is treated as anonymous")
	default:
		return nil, err
	}
	return f, nil
}

// ProviderState reports whether the provider is configured and the state of
// its circuit breaker.
func (f *Factory) ProviderState() (configured bool, breaker string) {
	if f.transport == nil {
		return false, ""
	}
	return true, f.transport.BreakerState()
}

// Identity builds the identity-provider client for jar.
func (f *Factory) Identity(jar *auth.CookieJar) (auth.Identity, error) {
	if f.transport == nil {
		return nil, auth.ErrMissingConfig
	}
	return f.transport.ForRequest(jar), nil
}

// Client builds the full backend client for jar.
func (f *Factory) Client(jar *auth.CookieJar) (guard.Client, error) {
	if f.transport == nil {
		return nil, auth.ErrMissingConfig
	}
	rest := f.transport.ForRequest(jar)
	if f.mode != internal.BackendPostgres {
		return rest, nil
	}
	return &databaseClient{
		Client: rest,
		rules:  f.rules,
		rpc:    permissionPostgres.NewPermissionRPC(f.sqlDB, rest),
	}, nil
}

// databaseClient keeps identity on the provider and answers permission,
// employee and count queries from the database.
type databaseClient struct {
	*supabase.Client
	rules *permissionPostgres.RuleRepository
	rpc   *permissionPostgres.PermissionRPC
}

var (
	_ guard.Client = (*supabase.Client)(nil)
	_ guard.Client = (*databaseClient)(nil)
)

func (c *databaseClient) HasPermission(ctx context.Context, code string, sc permission.Context) (bool, error) {
	return c.rpc.HasPermission(ctx, code, sc)
}

func (c *databaseClient) LoadRoleRules(ctx context.Context, role string) ([]permission.RuleEntry, error) {
	return c.rules.LoadRoleRules(ctx, role)
}

func (c *databaseClient) SiteType(ctx context.Context, siteID string) (string, error) {
	return c.rules.SiteType(ctx, siteID)
}

func (c *databaseClient) AreaKind(ctx context.Context, areaID string) (string, error) {
	return c.rules.AreaKind(ctx, areaID)
}

func (c *databaseClient) GetEmployee(ctx context.Context, userID string) (*roleoverride.Employee, error) {
	return c.rules.GetEmployee(ctx, userID)
}

func (c *databaseClient) Count(ctx context.Context, relation string, eq map[string]string) (int64, error) {
	return c.rules.Count(ctx, relation, eq)
}
