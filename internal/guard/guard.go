// Package guard is the entry point every page and API action passes before
// doing work: it authenticates the caller, checks app access and then any
// fine-grained permission codes, honouring an active role override.
package guard

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/permission"
	"github.com/frahmantamala/viso/internal/roleoverride"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonNoAccess     = "no_access"
	ReasonRoleOverride = "role_override"
	ReasonNoPermission = "no_permission"
	// ReasonLogin marks a redirect to the login page.
	ReasonLogin = "login"
)

// Client is the request-bound backend client handed to authorized callers.
type Client interface {
	auth.Identity
	permission.RuleSource
	permission.Checker
	roleoverride.Directory
	Count(ctx context.Context, relation string, eq map[string]string) (int64, error)
}

// ClientFactory builds a Client bound to jar.
type ClientFactory func(jar *auth.CookieJar) (Client, error)

type Options struct {
	AppID           string
	ReturnTo        string
	PermissionCodes []string
	// Client reuses an already bound client instead of building one.
	Client Client
}

// Result is either *Authorized or *Redirect.
type Result interface {
	result()
}

type Authorized struct {
	Client Client
	User   *auth.User
	// ActingRole is the override role the permission codes were checked
	// under, or "" for the caller's real role.
	ActingRole string
}

type Redirect struct {
	Location   string
	Reason     string
	Permission string
}

func (*Authorized) result() {}
func (*Redirect) result()   {}

// Err is the application error equivalent to the redirect.
func (r *Redirect) Err() error {
	switch r.Reason {
	case ReasonLogin:
		return internal.ErrSessionMissing
	case ReasonNoAccess:
		return internal.ErrNoAccess
	case ReasonRoleOverride:
		return internal.ErrRoleOverrideDenied.WithDetails(map[string]string{"permission": r.Permission})
	default:
		return internal.ErrNoPermission.WithDetails(map[string]string{"permission": r.Permission})
	}
}

type Config struct {
	LoginPath    string
	NoAccessPath string
	CookieDomain string
}

type Guard struct {
	factory  ClientFactory
	resolver *roleoverride.Resolver
	cfg      Config
	logger   *slog.Logger
}

func New(factory ClientFactory, resolver *roleoverride.Resolver, cfg Config, logger *slog.Logger) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.NoAccessPath == "" {
		cfg.NoAccessPath = "/no-access"
	}
	return &Guard{
		factory:  factory,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
	}
}

// RequireAppAccess authorizes the request behind jar. It never returns an
// error: every failure becomes a Redirect.
func (g *Guard) RequireAppAccess(ctx context.Context, jar *auth.CookieJar, opts Options) Result {
	client := opts.Client
	if client == nil {
		built, err := g.factory(jar)
		if err != nil {
			g.logger.WarnContext(ctx, "guard: cannot build backend client", "error", err)
			return g.deny(g.loginRedirect(opts.ReturnTo))
		}
		client = built
	}

	user, err := client.GetUser(ctx)
	if err != nil || user == nil {
		if err != nil {
			g.logger.WarnContext(ctx, "guard: user lookup failed", "error", err)
		}
		return g.deny(g.loginRedirect(opts.ReturnTo))
	}

	accessCode := permission.NormalizeCode(opts.AppID, "access")
	ok, err := client.HasPermission(ctx, accessCode, permission.Context{})
	if err != nil || !ok {
		g.logger.WarnContext(ctx, "guard: app access denied", "user_id", user.ID, "code", accessCode, "error", err)
		return g.deny(g.noAccessRedirect(opts.ReturnTo, ReasonNoAccess, ""))
	}

	codes := permission.NormalizeCodes(opts.AppID, opts.PermissionCodes)
	if len(codes) == 0 {
		return g.allow(client, user, "")
	}

	override := g.resolver.GetOverride(jar)
	var employee roleoverride.Employee
	canOverride := false
	if override != "" {
		emp, err := client.GetEmployee(ctx, user.ID)
		if err != nil {
			g.logger.WarnContext(ctx, "guard: employee lookup failed", "user_id", user.ID, "error", err)
		}
		if emp != nil {
			employee = *emp
		}
		canOverride = g.resolver.CanOverride(employee.Role, override)
	}

	if canOverride {
		evaluator := permission.NewEvaluator(client, g.logger)
		sc := permission.Context{SiteID: employee.SiteID}
		denied := firstDenied(codes, func(code string) bool {
			return evaluator.IsAllowed(ctx, override, opts.AppID, code, sc)
		})
		if denied != "" {
			g.logger.WarnContext(ctx, "guard: permission denied under role override",
				"user_id", user.ID, "actual_role", employee.Role, "override_role", override, "code", denied)
			return g.deny(g.noAccessRedirect(opts.ReturnTo, ReasonRoleOverride, denied))
		}
		return g.allow(client, user, override)
	}

	denied := firstDenied(codes, func(code string) bool {
		ok, err := client.HasPermission(ctx, code, permission.Context{})
		if err != nil {
			g.logger.ErrorContext(ctx, "guard: permission check failed", "user_id", user.ID, "code", code, "error", err)
		}
		return err == nil && ok
	})
	if denied != "" {
		g.logger.WarnContext(ctx, "guard: permission denied", "user_id", user.ID, "code", denied)
		return g.deny(g.noAccessRedirect(opts.ReturnTo, ReasonNoPermission, denied))
	}
	return g.allow(client, user, "")
}

// firstDenied runs check for every code concurrently and returns the first
// denied code in slice order, or "".
func firstDenied(codes []string, check func(code string) bool) string {
	allowed := make([]bool, len(codes))
	var eg errgroup.Group
	for i, code := range codes {
		eg.Go(func() error {
			allowed[i] = check(code)
			return nil
		})
	}
	_ = eg.Wait()

	for i, ok := range allowed {
		if !ok {
			return codes[i]
		}
	}
	return ""
}

func (g *Guard) allow(client Client, user *auth.User, actingRole string) Result {
	Decisions.WithLabelValues("authorized").Inc()
	return &Authorized{Client: client, User: user, ActingRole: actingRole}
}

func (g *Guard) deny(r *Redirect) Result {
	Decisions.WithLabelValues(r.Reason).Inc()
	return r
}

func (g *Guard) loginRedirect(returnTo string) *Redirect {
	return &Redirect{
		Location: g.cfg.LoginPath + "?" + encodeQuery("returnTo", returnTo),
		Reason:   ReasonLogin,
	}
}

func (g *Guard) noAccessRedirect(returnTo, reason, code string) *Redirect {
	pairs := []string{"returnTo", returnTo, "reason", reason}
	if code != "" {
		pairs = append(pairs, "permission", code)
	}
	return &Redirect{
		Location:   g.cfg.NoAccessPath + "?" + encodeQuery(pairs...),
		Reason:     reason,
		Permission: code,
	}
}

// encodeQuery encodes key/value pairs keeping their order.
func encodeQuery(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pairs[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[i+1]))
	}
	return b.String()
}
