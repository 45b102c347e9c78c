package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/frahmantamala/viso/internal/auth"
)

const (
	GateNoCookies = "no-cookies"
	GateNoConfig  = "no-config"
	GateAuthError = "auth-error"
	GateNoUser    = "no-user"
	GateOK        = "ok"

	debugCookieNamesLimit = 512
)

// RouteMatcher selects the paths the edge gate protects: every path except
// those whose remainder after the leading slash starts with an excluded
// prefix.
type RouteMatcher struct {
	excluded []string
}

func NewRouteMatcher(excluded []string) RouteMatcher {
	cleaned := make([]string, 0, len(excluded))
	for _, e := range excluded {
		e = strings.Trim(strings.TrimSpace(e), "/")
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return RouteMatcher{excluded: cleaned}
}

func (m RouteMatcher) Matches(path string) bool {
	rest := strings.TrimPrefix(path, "/")
	for _, e := range m.excluded {
		if strings.HasPrefix(rest, e) {
			return false
		}
	}
	return true
}

type EdgeGateConfig struct {
	CookiePrefix  string
	CookieDomain  string
	LoginPath     string
	ExcludedPaths []string
	Debug         bool
}

// EdgeGate redirects requests without a valid session to the login page
// before they reach page handlers.
type EdgeGate struct {
	provider auth.ProviderFactory
	cfg      EdgeGateConfig
	matcher  RouteMatcher
	logger   *slog.Logger
}

func NewEdgeGate(provider auth.ProviderFactory, cfg EdgeGateConfig, logger *slog.Logger) *EdgeGate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	return &EdgeGate{
		provider: provider,
		cfg:      cfg,
		matcher:  NewRouteMatcher(cfg.ExcludedPaths),
		logger:   logger,
	}
}

func (g *EdgeGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.matcher.Matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		jar := auth.NewCookieJar(r, g.cfg.CookieDomain)
		if !jar.HasPrefixed(g.cfg.CookiePrefix) {
			g.redirect(w, r, GateNoCookies, false)
			return
		}

		identity, err := g.provider(jar)
		if err != nil {
			if !errors.Is(err, auth.ErrMissingConfig) {
				g.logger.ErrorContext(r.Context(), "edge gate: cannot build provider client", "error", err)
			}
			g.redirect(w, r, GateNoConfig, false)
			return
		}

		user, err := identity.GetUser(r.Context())
		if err != nil {
			g.logger.WarnContext(r.Context(), "edge gate: user lookup failed", "path", r.URL.Path, "error", err)
			g.redirect(w, r, GateAuthError, true)
			return
		}
		if user == nil {
			g.redirect(w, r, GateNoUser, true)
			return
		}

		auth.EdgeGateDecisions.WithLabelValues(GateOK).Inc()
		g.debugHeaders(w, r, GateOK)
		jar.FlushToResponse(w)
		jar.ApplyToRequest(r)
		next.ServeHTTP(w, r.WithContext(auth.WithVerifiedSession(r.Context())))
	})
}

// redirect sends the browser to the login page with the absolute original
// URL. With clear set, every session cookie of the request is deleted.
func (g *EdgeGate) redirect(w http.ResponseWriter, r *http.Request, status string, clear bool) {
	auth.EdgeGateDecisions.WithLabelValues(status).Inc()
	g.debugHeaders(w, r, status)

	if clear {
		jar := auth.NewCookieJar(r, g.cfg.CookieDomain)
		jar.ClearPrefixed(g.cfg.CookiePrefix)
		jar.FlushToResponse(w)
	}

	target := g.cfg.LoginPath + "?" + url.Values{"returnTo": {RequestURL(r)}}.Encode()
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (g *EdgeGate) debugHeaders(w http.ResponseWriter, r *http.Request, status string) {
	if !g.cfg.Debug {
		return
	}
	cookies := r.Cookies()
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	joined := strings.Join(names, ",")
	if len(joined) > debugCookieNamesLimit {
		joined = joined[:debugCookieNamesLimit]
	}

	h := w.Header()
	h.Set("x-vento-auth-debug", "1")
	h.Set("x-vento-auth-status", status)
	h.Set("x-vento-host", r.Host)
	h.Set("x-vento-path", r.URL.Path)
	h.Set("x-vento-cookie-count", strconv.Itoa(len(cookies)))
	h.Set("x-vento-cookie-names", joined)
}

// RequestURL reconstructs the absolute URL the client requested, honouring
// X-Forwarded-Proto and X-Forwarded-Host.
func RequestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
