package guard

import (
	"context"
	"net/http"

	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/auth"
	"github.com/frahmantamala/viso/pkg/logger"
)

type ctxKey struct{}

// FromContext returns the authorization stored by Middleware.
func FromContext(ctx context.Context) (*Authorized, bool) {
	a, ok := ctx.Value(ctxKey{}).(*Authorized)
	return a, ok && a != nil
}

func WithAuthorized(ctx context.Context, a *Authorized) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// Middleware runs RequireAppAccess for every request. Redirects end the
// request; authorized requests carry the Authorized value in their context.
// An empty opts.ReturnTo defaults to the request URI.
func (g *Guard) Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jar := auth.NewCookieJar(r, g.cfg.CookieDomain)

			o := opts
			if o.ReturnTo == "" {
				o.ReturnTo = r.URL.RequestURI()
			}

			res := g.RequireAppAccess(r.Context(), jar, o)
			jar.FlushToResponse(w)

			switch v := res.(type) {
			case *Redirect:
				g.logger.DebugContext(r.Context(), "guard: redirecting",
					"reason", v.Reason, "location", v.Location, "error", v.Err())
				http.Redirect(w, r, v.Location, RedirectStatus(r))
			case *Authorized:
				jar.ApplyToRequest(r)
				ctx := WithAuthorized(r.Context(), v)
				ctx = internal.ContextWithUserID(ctx, v.User.ID)
				if v.ActingRole != "" {
					ctx = internal.ContextWithActingRole(ctx, v.ActingRole)
				}
				ctx = logger.With(ctx, "user_id", v.User.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// RedirectStatus is 307 for safe methods and 303 otherwise, so a denied
// form post lands on a GET.
func RedirectStatus(r *http.Request) int {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.StatusTemporaryRedirect
	}
	return http.StatusSeeOther
}
