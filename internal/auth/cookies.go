package auth

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// CookieOptions are the attributes of a staged cookie.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   int
	Expires  time.Time
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
}

// CookieJar is the per-request view of cookies. Reads see the request's
// cookies overlaid with everything staged so far; staged cookies reach the
// client only through FlushToResponse.
type CookieJar struct {
	mu      sync.Mutex
	request []*http.Cookie
	staged  []*http.Cookie
	flushed int
	domain  string
}

// NewCookieJar snapshots r's cookies. A non-empty domain is forced onto every
// staged cookie.
func NewCookieJar(r *http.Request, domain string) *CookieJar {
	return &CookieJar{
		request: r.Cookies(),
		domain:  domain,
	}
}

// Read returns the current cookie set, ordered by name.
func (j *CookieJar) Read() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	current := make(map[string]string, len(j.request))
	for _, c := range j.request {
		current[c.Name] = c.Value
	}
	for _, c := range j.staged {
		if c.MaxAge < 0 {
			delete(current, c.Name)
			continue
		}
		current[c.Name] = c.Value
	}

	out := make([]*http.Cookie, 0, len(current))
	for name, value := range current {
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (j *CookieJar) Get(name string) (string, bool) {
	for _, c := range j.Read() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// HasPrefixed reports whether any current cookie name starts with prefix.
func (j *CookieJar) HasPrefixed(prefix string) bool {
	for _, c := range j.Read() {
		if strings.HasPrefix(c.Name, prefix) {
			return true
		}
	}
	return false
}

// RequestNames returns the cookie names of the original request, in order.
func (j *CookieJar) RequestNames() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.request))
	for _, c := range j.request {
		names = append(names, c.Name)
	}
	return names
}

// Stage records a cookie to be written to the response. A later Stage for
// the same name replaces the earlier one.
func (j *CookieJar) Stage(name, value string, opts CookieOptions) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		Expires:  opts.Expires,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if j.domain != "" {
		c.Domain = j.domain
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i, existing := range j.staged {
		if existing.Name == name {
			j.staged = append(j.staged[:i], j.staged[i+1:]...)
			if i < j.flushed {
				j.flushed--
			}
			break
		}
	}
	j.staged = append(j.staged, c)
}

// Clear stages a deletion (Max-Age=0) for name.
func (j *CookieJar) Clear(name string) {
	j.Stage(name, "", CookieOptions{Path: "/", MaxAge: -1})
}

// ClearPrefixed stages a deletion for every cookie of the original request
// whose name starts with prefix and returns the cleared names.
func (j *CookieJar) ClearPrefixed(prefix string) []string {
	var cleared []string
	for _, name := range j.RequestNames() {
		if strings.HasPrefix(name, prefix) {
			j.Clear(name)
			cleared = append(cleared, name)
		}
	}
	return cleared
}

// Staged returns a copy of the staged cookies in staging order.
func (j *CookieJar) Staged() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, len(j.staged))
	copy(out, j.staged)
	return out
}

// ApplyToRequest rewrites r's Cookie header so handlers later in the same
// request observe the staged values.
func (j *CookieJar) ApplyToRequest(r *http.Request) {
	current := j.Read()
	r.Header.Del("Cookie")
	for _, c := range current {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

// FlushToResponse writes every cookie staged since the previous flush as a
// Set-Cookie header. It must run before the response header is written.
func (j *CookieJar) FlushToResponse(w http.ResponseWriter) {
	j.mu.Lock()
	pending := j.staged[j.flushed:]
	j.flushed = len(j.staged)
	j.mu.Unlock()

	for _, c := range pending {
		http.SetCookie(w, c)
	}
}
