package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Synchronizer refreshes the provider session on every request that carries
// session cookies and keeps request and response cookies consistent.
type Synchronizer struct {
	provider ProviderFactory
	prefix   string
	domain   string
	logger   *slog.Logger
}

func NewSynchronizer(provider ProviderFactory, prefix, cookieDomain string, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		prefix:   prefix,
		domain:   cookieDomain,
		logger:   logger,
	}
}

// Sync runs one refresh cycle for r. Staged cookies are written to w and
// applied to r. It never blocks the request: every failure except a missing
// refresh token leaves the cookies as they are.
func (s *Synchronizer) Sync(w http.ResponseWriter, r *http.Request) {
	jar := NewCookieJar(r, s.domain)

	// Anonymous traffic never reaches the provider.
	if !jar.HasPrefixed(s.prefix) {
		SessionSyncTotal.WithLabelValues("no_cookies").Inc()
		return
	}

	identity, err := s.provider(jar)
	if err != nil {
		if errors.Is(err, ErrMissingConfig) {
			SessionSyncTotal.WithLabelValues("no_config").Inc()
		} else {
			SessionSyncTotal.WithLabelValues("error").Inc()
			s.logger.ErrorContext(r.Context(), "session sync: cannot build provider client", "error", err)
		}
		return
	}

	defer func() {
		jar.FlushToResponse(w)
		jar.ApplyToRequest(r)
	}()

	if _, err := identity.GetUser(r.Context()); err != nil {
		if IsRefreshTokenNotFound(err) {
			cleared := jar.ClearPrefixed(s.prefix)
			SessionSyncTotal.WithLabelValues("cleared").Inc()
			s.logger.WarnContext(r.Context(), "session sync: refresh token not found, clearing session cookies",
				"cookies", cleared)
			return
		}
		SessionSyncTotal.WithLabelValues("error").Inc()
		s.logger.WarnContext(r.Context(), "session sync: refresh failed, passing through", "error", err)
		return
	}

	SessionSyncTotal.WithLabelValues("ok").Inc()
}

type verifiedKey struct{}

// WithVerifiedSession marks the request as already validated and refreshed
// against the provider, with its cookies propagated.
func WithVerifiedSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, verifiedKey{}, true)
}

func SessionVerified(ctx context.Context) bool {
	v, _ := ctx.Value(verifiedKey{}).(bool)
	return v
}

// Middleware runs Sync unless an earlier layer already verified the session
// for this request.
func (s *Synchronizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionVerified(r.Context()) {
			SessionSyncTotal.WithLabelValues("verified").Inc()
		} else {
			s.Sync(w, r)
		}
		next.ServeHTTP(w, r)
	})
}
