// Package roleoverride lets a privileged operator act as another role.
//
// The acting role lives in a dedicated cookie. Only an allow-listed actual
// role may use it, and an active override is always re-evaluated against the
// override role's own rule set.
package roleoverride

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/permission"
)

const (
	DefaultCookieName = "nexo_role_override"
	CookieMaxAge      = 30 * 24 * time.Hour
)

// Employee is the caller's row in the employee directory.
type Employee struct {
	Role   string `json:"role"`
	SiteID string `json:"site_id"`
}

// Directory looks up employees by user id. A missing employee is nil, nil.
type Directory interface {
	GetEmployee(ctx context.Context, userID string) (*Employee, error)
}

// Backend is what an override check needs from the request-bound client.
type Backend interface {
	permission.RuleSource
	permission.Checker
}

type Config struct {
	CookieName      string
	PrivilegedRoles []string
	// ValidateTarget rejects override roles missing from the catalog.
	ValidateTarget bool
}

type Resolver struct {
	cookieName     string
	privileged     map[string]struct{}
	validateTarget bool
	logger         *slog.Logger
}

func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	name := cfg.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	privileged := make(map[string]struct{}, len(cfg.PrivilegedRoles))
	for _, role := range cfg.PrivilegedRoles {
		privileged[role] = struct{}{}
	}
	return &Resolver{
		cookieName:     name,
		privileged:     privileged,
		validateTarget: cfg.ValidateTarget,
		logger:         logger,
	}
}

func (r *Resolver) CookieName() string {
	return r.cookieName
}

// GetOverride returns the trimmed override role, or "" when none is set.
func (r *Resolver) GetOverride(jar *auth.CookieJar) string {
	value, ok := jar.Get(r.cookieName)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// ValidatesTarget reports whether override roles must be catalog roles, both
// when read from the cookie and when set.
func (r *Resolver) ValidatesTarget() bool {
	return r.validateTarget
}

func (r *Resolver) IsPrivileged(role string) bool {
	_, ok := r.privileged[role]
	return ok
}

// CanOverride is true only for a non-empty override and a privileged actual
// role. The override role itself never grants anything.
func (r *Resolver) CanOverride(actualRole, overrideRole string) bool {
	if overrideRole == "" || actualRole == "" {
		return false
	}
	if !r.IsPrivileged(actualRole) {
		return false
	}
	if r.validateTarget && !Known(overrideRole) {
		return false
	}
	return true
}

// Set stages the override cookie for role.
func (r *Resolver) Set(jar *auth.CookieJar, role string) {
	jar.Stage(r.cookieName, role, auth.CookieOptions{
		Path:   "/",
		MaxAge: int(CookieMaxAge.Seconds()),
	})
}

func (r *Resolver) Clear(jar *auth.CookieJar) {
	jar.Clear(r.cookieName)
}

type CheckInput struct {
	AppID      string
	Code       string
	Context    permission.Context
	ActualRole string
}

// CheckWithOverride evaluates the override role's rules when an override is
// active and permitted, and otherwise calls has_permission for the session.
func (r *Resolver) CheckWithOverride(ctx context.Context, jar *auth.CookieJar, backend Backend, in CheckInput) bool {
	override := r.GetOverride(jar)
	if r.CanOverride(in.ActualRole, override) {
		decision := permission.NewEvaluator(backend, r.logger).Evaluate(ctx, override, in.AppID, in.Code, in.Context)
		r.logger.DebugContext(ctx, "permission checked with role override",
			"actual_role", in.ActualRole, "override_role", override,
			"code", decision.Code, "outcome", decision.Outcome.String())
		return decision.Allowed()
	}
	return permission.Check(ctx, backend, in.AppID, in.Code, in.Context)
}
