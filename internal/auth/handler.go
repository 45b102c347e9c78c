package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/frahmantamala/viso/internal/transport"
)

type HandlerConfig struct {
	CookiePrefix  string
	CookieDomain  string
	ShellLoginURL string
}

// Handler serves the login hand-off, sign-out and no-access endpoints.
type Handler struct {
	*transport.BaseHandler
	provider ProviderFactory
	cfg      HandlerConfig
}

func NewHandler(baseHandler *transport.BaseHandler, provider ProviderFactory, cfg HandlerConfig) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		provider:    provider,
		cfg:         cfg,
	}
}

// Login hands the browser over to the shell login page with an absolute
// returnTo.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	target := BuildShellLoginURL(h.cfg.ShellLoginURL, r.URL.Query().Get("returnTo"), r)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout signs the session out at the provider and clears session cookies
// even when the provider call fails.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	jar := NewCookieJar(r, h.cfg.CookieDomain)

	if identity, err := h.provider(jar); err == nil {
		if err := identity.SignOut(r.Context()); err != nil {
			h.Logger.WarnContext(r.Context(), "logout: provider sign out failed", "error", err)
		}
	}

	jar.ClearPrefixed(h.cfg.CookiePrefix)
	jar.FlushToResponse(w)

	h.WriteJSON(w, http.StatusOK, LogoutResponse{
		Redirect: BuildShellLoginURL(h.cfg.ShellLoginURL, "/", r),
	})
}

// NoAccess answers the authorization-denied landing page.
func (h *Handler) NoAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.WriteJSON(w, http.StatusForbidden, NoAccessResponse{
		Message:    "authenticated but not allowed to use this module",
		Reason:     q.Get("reason"),
		Permission: q.Get("permission"),
		ReturnTo:   safeReturnTo(q.Get("returnTo")),
	})
}

type LogoutResponse struct {
	Redirect string `json:"redirect"`
}

type NoAccessResponse struct {
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	Permission string `json:"permission,omitempty"`
	ReturnTo   string `json:"return_to,omitempty"`
}

// BuildShellLoginURL resolves returnTo against the forwarded host of r and
// appends it to the shell login URL.
func BuildShellLoginURL(shellLoginURL, returnTo string, r *http.Request) string {
	normalized := normalizeReturnTo(returnTo)
	if !isAbsoluteHTTP(normalized) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}
		proto := r.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "https"
		}
		normalized = proto + "://" + host + normalized
	}

	qs := url.Values{}
	qs.Set("returnTo", normalized)
	return shellLoginURL + "?" + qs.Encode()
}

func normalizeReturnTo(value string) string {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return "/"
	case isAbsoluteHTTP(v):
		return v
	case !strings.HasPrefix(v, "/"):
		return "/"
	}
	return v
}

// safeReturnTo keeps only relative paths; the no-access page must not echo
// arbitrary URLs.
func safeReturnTo(value string) string {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") {
		return ""
	}
	return v
}

func isAbsoluteHTTP(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}
