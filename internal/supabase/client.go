// Package supabase talks to the hosted identity provider (GoTrue) and the
// relational REST API (PostgREST) on behalf of one request.
//
// A Transport is built once per process and shared. ForRequest binds it to a
// request's cookie jar; the returned Client reads the session from the jar and
// stages refreshed session cookies back onto it.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/viso/internal/auth"
	gobreaker "github.com/sony/gobreaker/v2"
)

type Config struct {
	URL          string
	Key          string
	CookiePrefix string
	JWTSecret    string
	HTTPClient   *http.Client
	Breaker      *gobreaker.CircuitBreaker[*http.Response]
}

type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
}

// NewCircuitBreaker builds the breaker shared by every provider call. Only
// transport failures and 5xx answers count as failures.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return gobreaker.NewCircuitBreaker[*http.Response](settings)
}

type Transport struct {
	baseURL    string
	key        string
	storageKey string
	jwtSecret  []byte
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
}

// NewTransport returns auth.ErrMissingConfig when URL or key is empty.
func NewTransport(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, auth.ErrMissingConfig
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid provider url %q: %v", cfg.URL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	t := &Transport{
		baseURL:    u.String(),
		key:        cfg.Key,
		storageKey: StorageKey(cfg.CookiePrefix, u.Hostname()),
		httpClient: httpClient,
		breaker:    cfg.Breaker,
		logger:     logger,
	}
	if cfg.JWTSecret != "" {
		t.jwtSecret = []byte(cfg.JWTSecret)
	}
	return t, nil
}

// StorageKey is the session cookie name: <prefix><project ref>-auth-token.
func StorageKey(prefix, host string) string {
	ref := host
	if i := strings.Index(host, "."); i > 0 {
		ref = host[:i]
	}
	return prefix + ref + "-auth-token"
}

func (t *Transport) StorageKey() string {
	return t.storageKey
}

// BreakerState reports the circuit breaker state, or "disabled".
func (t *Transport) BreakerState() string {
	if t.breaker == nil {
		return "disabled"
	}
	return t.breaker.State().String()
}

// ForRequest binds the transport to jar.
func (t *Transport) ForRequest(jar *auth.CookieJar) *Client {
	return &Client{t: t, jar: jar}
}

// Client is bound to one request. It is safe for concurrent use by the
// request's own goroutines; at most one of them refreshes the session.
type Client struct {
	t   *Transport
	jar *auth.CookieJar

	// refreshMu serializes the expiry check and the refresh.
	refreshMu sync.Mutex

	mu      sync.Mutex
	loaded  bool
	session *Session
}

// RESTError is an error answered by the REST API.
type RESTError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *RESTError) Error() string {
	return fmt.Sprintf("rest api: status %d: %s %s", e.Status, e.Code, e.Message)
}

func (t *Transport) newRequest(ctx context.Context, method, path string, query url.Values, body any, bearer string) (*http.Request, error) {
	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", t.key)
	if bearer == "" {
		bearer = t.key
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req through the circuit breaker. 5xx answers are returned as
// errors; 4xx answers are returned to the caller to decode.
func (t *Transport) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()

	exec := func() (*http.Response, error) {
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &auth.ProviderError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return resp, nil
	}

	var (
		resp *http.Response
		err  error
	)
	if t.breaker != nil {
		resp, err = t.breaker.Execute(exec)
	} else {
		resp, err = exec()
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp.StatusCode >= http.StatusBadRequest:
		outcome = "rejected"
	}
	auth.ProviderRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		t.logger.Warn("provider request failed", "operation", op, "error", err)
	}
	return resp, err
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeRESTError(resp *http.Response) error {
	defer resp.Body.Close()
	restErr := &RESTError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(body, restErr); err != nil {
		restErr.Message = strings.TrimSpace(string(body))
	}
	return restErr
}
