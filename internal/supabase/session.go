package supabase

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/viso/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

const (
	base64Prefix = "base64-"
	// maxChunkSize keeps each cookie under browser limits once attributes
	// are added.
	maxChunkSize = 3180
	// expiryMargin refreshes tokens slightly before they expire.
	expiryMargin = 10 * time.Second
	// sessionCookieMaxAge is 400 days, the browser cap.
	sessionCookieMaxAge = 400 * 24 * 60 * 60
)

// Session is the provider session stored in the auth cookie.
type Session struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
	User         *providerUser `json:"user,omitempty"`
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *providerUser) toUser() *auth.User {
	return &auth.User{ID: u.ID, Email: u.Email}
}

// Expiry returns when the access token expires, from expires_at or else from
// the token's exp claim.
func (s *Session) Expiry() (time.Time, error) {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0), nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

func (s *Session) expired(now time.Time) bool {
	exp, err := s.Expiry()
	if err != nil {
		return true
	}
	return !now.Add(expiryMargin).Before(exp)
}

// EncodeSession serializes s the way the browser client stores it.
func EncodeSession(s *Session) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeSession parses a cookie value in either base64- or raw JSON form.
func DecodeSession(value string) (*Session, error) {
	var payload []byte
	if strings.HasPrefix(value, base64Prefix) {
		raw := strings.TrimRight(strings.TrimPrefix(value, base64Prefix), "=")
		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode session cookie: %w", err)
		}
		payload = decoded
	} else {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("unescape session cookie: %w", err)
		}
		payload = []byte(unescaped)
	}

	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("parse session cookie: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// readSessionCookie joins the session cookie or its .0..n chunks.
func readSessionCookie(jar *auth.CookieJar, key string) (string, bool) {
	if value, ok := jar.Get(key); ok {
		return value, true
	}
	var b strings.Builder
	for i := 0; ; i++ {
		chunk, ok := jar.Get(key + "." + strconv.Itoa(i))
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

func chunkNames(jar *auth.CookieJar, key string) []string {
	var names []string
	for _, c := range jar.Read() {
		if strings.HasPrefix(c.Name, key+".") {
			if _, err := strconv.Atoi(strings.TrimPrefix(c.Name, key+".")); err == nil {
				names = append(names, c.Name)
			}
		}
	}
	return names
}

func sessionCookieOptions() auth.CookieOptions {
	return auth.CookieOptions{
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	}
}

// writeSessionCookie stages value under key, chunking when it is too large
// and clearing chunks a previous, larger session left behind.
func writeSessionCookie(jar *auth.CookieJar, key, value string) {
	stale := map[string]bool{}
	for _, name := range chunkNames(jar, key) {
		stale[name] = true
	}
	_, hadPlain := jar.Get(key)

	if len(value) <= maxChunkSize {
		jar.Stage(key, value, sessionCookieOptions())
		for name := range stale {
			jar.Clear(name)
		}
		return
	}

	for i := 0; len(value) > 0; i++ {
		n := maxChunkSize
		if len(value) < n {
			n = len(value)
		}
		name := key + "." + strconv.Itoa(i)
		jar.Stage(name, value[:n], sessionCookieOptions())
		delete(stale, name)
		value = value[n:]
	}
	for name := range stale {
		jar.Clear(name)
	}
	if hadPlain {
		jar.Clear(key)
	}
}

func removeSessionCookie(jar *auth.CookieJar, key string) {
	if _, ok := jar.Get(key); ok {
		jar.Clear(key)
	}
	for _, name := range chunkNames(jar, key) {
		jar.Clear(name)
	}
}
