package middleware

import (
	"net/http"

	"github.com/frahmantamala/viso/internal/guard"
)

// RequirePermissions guards a route with app access plus every listed code.
// Denied requests are redirected by the guard.
func RequirePermissions(g *guard.Guard, appID string, codes ...string) func(http.Handler) http.Handler {
	return g.Middleware(guard.Options{
		AppID:           appID,
		PermissionCodes: codes,
	})
}
