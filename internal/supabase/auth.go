package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

var nowFunc = time.Now

// authErrorBody covers both the current (error_code/msg) and the legacy
// (error/error_description) error payloads of the identity provider.
type authErrorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeAuthError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	pe := &auth.ProviderError{Status: resp.StatusCode}
	var payload authErrorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		pe.Message = strings.TrimSpace(string(body))
		return pe
	}

	pe.Code = payload.ErrorCode
	for _, msg := range []string{payload.Msg, payload.Message, payload.ErrorDescription, payload.Error} {
		if msg != "" {
			pe.Message = msg
			break
		}
	}
	if pe.Code == "" && strings.Contains(strings.ToLower(pe.Message), "refresh token not found") {
		pe.Code = auth.CodeRefreshTokenNotFound
	}
	return pe
}

// currentSession loads the session from the jar once per client.
func (c *Client) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.session
	}
	c.loaded = true

	value, ok := readSessionCookie(c.jar, c.t.storageKey)
	if !ok {
		return nil
	}
	s, err := DecodeSession(value)
	if err != nil {
		c.t.logger.Debug("ignoring unreadable session cookie", "cookie", c.t.storageKey, "error", err)
		return nil
	}
	c.session = s
	return s
}

func (c *Client) setSession(s *Session) error {
	value, err := EncodeSession(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	c.mu.Lock()
	c.session = s
	c.loaded = true
	c.mu.Unlock()
	writeSessionCookie(c.jar, c.t.storageKey, value)
	return nil
}

// Session returns a valid session, refreshing it when the access token is
// about to expire. It returns nil, nil without a session.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// a concurrent caller may have refreshed while this one waited
	s := c.currentSession()
	if s == nil {
		return nil, nil
	}
	if !s.expired(nowFunc()) {
		return s, nil
	}
	if s.RefreshToken == "" {
		return nil, nil
	}
	return c.refresh(ctx, s.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	req, err := c.t.newRequest(ctx, http.MethodPost, "/auth/v1/token", query,
		map[string]string{"refresh_token": refreshToken}, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.t.do("refresh", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAuthError(resp)
	}

	var s Session
	if err := decodeJSON(resp, &s); err != nil {
		return nil, err
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = nowFunc().Unix() + s.ExpiresIn
	}
	if err := c.setSession(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUser validates the session with the provider. An absent session yields
// nil, nil. Rejections surface as *auth.ProviderError; a missing refresh
// token carries code refresh_token_not_found.
func (c *Client) GetUser(ctx context.Context) (*auth.User, error) {
	s, err := c.Session(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	req, err := c.t.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil, nil, s.AccessToken)
	if err != nil {
		return nil, err
	}
	resp, err := c.t.do("get_user", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAuthError(resp)
	}

	var u providerUser
	if err := decodeJSON(resp, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, nil
	}
	return u.toUser(), nil
}

// SignOut revokes the session at the provider and removes the session
// cookie. A session the provider no longer knows is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.currentSession()
	defer removeSessionCookie(c.jar, c.t.storageKey)
	if s == nil {
		return nil
	}

	req, err := c.t.newRequest(ctx, http.MethodPost, "/auth/v1/logout", url.Values{"scope": {"local"}}, nil, s.AccessToken)
	if err != nil {
		return err
	}
	resp, err := c.t.do("logout", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil
	default:
		return decodeAuthError(resp)
	}
}

// Claims returns the access token claims of the current session. With a
// configured JWT secret the HS256 signature and expiry are verified.
func (c *Client) Claims(ctx context.Context) (jwt.MapClaims, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, auth.ErrNoSession
	}

	claims := jwt.MapClaims{}
	if c.t.jwtSecret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
			return nil, fmt.Errorf("parse access token: %w", err)
		}
		return claims, nil
	}

	_, err = jwt.ParseWithClaims(s.AccessToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.t.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	return claims, nil
}

// IsUnauthenticated reports whether err is the provider rejecting the
// session's token.
func IsUnauthenticated(err error) bool {
	var pe *auth.ProviderError
	return errors.As(err, &pe) && (pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden)
}
