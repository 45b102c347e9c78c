package auth

import (
	"context"
	"errors"
	"fmt"
)

// User is the authenticated identity as reported by the identity provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Identity is the identity-provider client bound to one request's cookie jar.
type Identity interface {
	// GetUser refreshes the session if needed and returns the current user,
	// or nil when the request carries no valid session.
	GetUser(ctx context.Context) (*User, error)
	SignOut(ctx context.Context) error
}

// ProviderFactory builds an Identity bound to jar. It returns
// ErrMissingConfig when the provider URL or key is not configured.
type ProviderFactory func(jar *CookieJar) (Identity, error)

const CodeRefreshTokenNotFound = "refresh_token_not_found"

var (
	ErrMissingConfig = errors.New("identity provider url or key not configured")
	ErrNoSession     = errors.New("no session")
)

// ProviderError is an error answered by the identity provider. Code carries
// the provider's machine-readable error code when present.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider: %s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("identity provider: status %d: %s", e.Status, e.Message)
}

// IsRefreshTokenNotFound reports whether err means the session's refresh
// token no longer exists at the provider. Such a session can never recover.
func IsRefreshTokenNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeRefreshTokenNotFound
}
