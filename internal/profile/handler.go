// Package profile serves the caller's own authorization state: the role
// override switcher and ad hoc permission checks.
package profile

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/internal/core/common/validation"
	"github.com/frahmantamala/viso/internal/core/events"
	"github.com/frahmantamala/viso/internal/guard"
	"github.com/frahmantamala/viso/internal/permission"
	"github.com/frahmantamala/viso/internal/roleoverride"
	"github.com/frahmantamala/viso/internal/transport"
)

type Config struct {
	AppID        string
	CookieDomain string
	// Events receives role override changes. Optional.
	Events events.Publisher
}

// Handler expects guard.Middleware to have authorized the request.
type Handler struct {
	*transport.BaseHandler
	resolver *roleoverride.Resolver
	cfg      Config
}

func NewHandler(baseHandler *transport.BaseHandler, resolver *roleoverride.Resolver, cfg Config) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		resolver:    resolver,
		cfg:         cfg,
	}
}

func (h *Handler) GetRoleOverride(w http.ResponseWriter, r *http.Request) {
	authz, ok := guard.FromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionMissing)
		return
	}

	employee, err := authz.Client.GetEmployee(r.Context(), authz.User.ID)
	if err != nil {
		h.WriteAppError(w, internal.ErrProviderUnavailable.WithCause(err))
		return
	}
	actual := ""
	if employee != nil {
		actual = employee.Role
	}

	jar := auth.NewCookieJar(r, h.cfg.CookieDomain)
	override := h.resolver.GetOverride(jar)

	resp := RoleOverrideResponse{
		ActualRole: actual,
		ActingRole: actual,
		CanSwitch:  h.resolver.IsPrivileged(actual),
	}
	if h.resolver.CanOverride(actual, override) {
		resp.OverrideRole = override
		resp.ActingRole = override
	}
	if resp.CanSwitch {
		resp.Options = roleoverride.Catalog
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) SetRoleOverride(w http.ResponseWriter, r *http.Request) {
	authz, ok := guard.FromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionMissing)
		return
	}

	var req SetRoleOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteAppError(w, internal.NewValidationError("Invalid request body", internal.ErrCodeValidationFailed).WithCause(err))
		return
	}
	req.Role = strings.TrimSpace(req.Role)
	var known []string
	if h.resolver.ValidatesTarget() {
		known = knownRoles()
	}
	if appErr := validation.ValidateRole(req.Role, known); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}

	employee, err := authz.Client.GetEmployee(r.Context(), authz.User.ID)
	if err != nil {
		h.WriteAppError(w, internal.ErrProviderUnavailable.WithCause(err))
		return
	}
	if employee == nil || !h.resolver.CanOverride(employee.Role, req.Role) {
		h.WriteAppError(w, internal.ErrRoleOverrideDenied)
		return
	}

	jar := auth.NewCookieJar(r, h.cfg.CookieDomain)
	h.resolver.Set(jar, req.Role)
	jar.FlushToResponse(w)

	h.Logger.InfoContext(r.Context(), "role override set",
		"user_id", authz.User.ID, "actual_role", employee.Role, "override_role", req.Role)
	h.publish(r, events.NewRoleOverrideSetEvent(authz.User.ID, employee.Role, req.Role))
	h.WriteJSON(w, http.StatusOK, RoleOverrideResponse{
		ActualRole:   employee.Role,
		OverrideRole: req.Role,
		ActingRole:   req.Role,
		CanSwitch:    true,
		Options:      roleoverride.Catalog,
	})
}

func (h *Handler) ClearRoleOverride(w http.ResponseWriter, r *http.Request) {
	jar := auth.NewCookieJar(r, h.cfg.CookieDomain)
	h.resolver.Clear(jar)
	jar.FlushToResponse(w)

	if authz, ok := guard.FromContext(r.Context()); ok {
		h.publish(r, events.NewRoleOverrideClearedEvent(authz.User.ID, ""))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(r *http.Request, event events.Event) {
	if h.cfg.Events == nil {
		return
	}
	if err := h.cfg.Events.Publish(r.Context(), event); err != nil {
		h.Logger.WarnContext(r.Context(), "failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

// CheckPermission answers whether the caller holds code in the optional
// site and area scope, evaluating an active role override.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	authz, ok := guard.FromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionMissing)
		return
	}

	q := r.URL.Query()
	code := strings.TrimSpace(q.Get("code"))
	validator := validation.NewValidator()
	validator.Field("code", code).Required().MaxLength(128)
	if appErr := validator.Validate(); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}
	if appErr := validation.ValidateScope(q.Get("site_id"), q.Get("area_id")); appErr != nil {
		h.WriteAppError(w, appErr)
		return
	}
	sc, err := permission.ParseContext(q.Get("site_id"), q.Get("area_id"))
	if err != nil {
		h.WriteAppError(w, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidScope))
		return
	}

	jar := auth.NewCookieJar(r, h.cfg.CookieDomain)
	actual := ""
	if h.resolver.GetOverride(jar) != "" {
		employee, err := authz.Client.GetEmployee(r.Context(), authz.User.ID)
		if err != nil {
			h.Logger.WarnContext(r.Context(), "permission check: employee lookup failed", "error", err)
		}
		if employee != nil {
			actual = employee.Role
		}
	}

	allowed := h.resolver.CheckWithOverride(r.Context(), jar, authz.Client, roleoverride.CheckInput{
		AppID:      h.cfg.AppID,
		Code:       code,
		Context:    sc,
		ActualRole: actual,
	})
	h.WriteJSON(w, http.StatusOK, PermissionCheckResponse{
		Code:    permission.NormalizeCode(h.cfg.AppID, code),
		SiteID:  sc.SiteID,
		AreaID:  sc.AreaID,
		Allowed: allowed,
	})
}

func knownRoles() []string {
	out := make([]string, 0, len(roleoverride.Catalog))
	for _, role := range roleoverride.Catalog {
		out = append(out, role.Value)
	}
	return out
}
