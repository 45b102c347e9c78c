package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Supabase      SupabaseConfig      `mapstructure:"supabase"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"min=0,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// SupabaseConfig points at the hosted identity provider and relational API.
// URL and key may be empty: the app still starts and treats every request as
// anonymous.
type SupabaseConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	AnonKey        string        `mapstructure:"anon_key"`
	PublishableKey string        `mapstructure:"publishable_key"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" validate:"required_if=Enabled true"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	AppID                  string   `mapstructure:"app_id" validate:"required"`
	Backend                string   `mapstructure:"backend" validate:"omitempty,oneof=rest postgres"`
	CookieDomain           string   `mapstructure:"cookie_domain"`
	CookiePrefix           string   `mapstructure:"cookie_prefix"`
	Debug                  bool     `mapstructure:"debug"`
	ExcludedPaths          []string `mapstructure:"excluded_paths"`
	LoginPath              string   `mapstructure:"login_path"`
	NoAccessPath           string   `mapstructure:"no_access_path"`
	ShellLoginURL          string   `mapstructure:"shell_login_url" validate:"omitempty,url"`
	OverrideCookie         string   `mapstructure:"override_cookie"`
	PrivilegedRoles        []string `mapstructure:"privileged_roles"`
	ValidateOverrideTarget bool     `mapstructure:"validate_override_target"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

const (
	DefaultAppID          = "viso"
	DefaultCookiePrefix   = "sb-"
	DefaultOverrideCookie = "nexo_role_override"
	DefaultLoginPath      = "/login"
	DefaultNoAccessPath   = "/no-access"
	DefaultShellLoginURL  = "https://os.ventogroup.co/login"
	BackendREST           = "rest"
	BackendPostgres       = "postgres"
)

var (
	DefaultExcludedPaths   = []string{"_next", "static", "login", "favicon.ico", "logos", "images", "fonts", "api"}
	DefaultPrivilegedRoles = []string{"propietario", "gerente_general"}
)

// ApplyDefaults fills every optional setting that was left empty.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Supabase.HTTPTimeout == 0 {
		c.Supabase.HTTPTimeout = 10 * time.Second
	}
	if c.Supabase.Breaker.FailureThreshold == 0 {
		c.Supabase.Breaker.FailureThreshold = 5
	}
	if c.Supabase.Breaker.Timeout == 0 {
		c.Supabase.Breaker.Timeout = 30 * time.Second
	}

	a := &c.Auth
	if a.AppID == "" {
		a.AppID = DefaultAppID
	}
	if a.Backend == "" {
		a.Backend = BackendREST
	}
	if a.CookiePrefix == "" {
		a.CookiePrefix = DefaultCookiePrefix
	}
	if len(a.ExcludedPaths) == 0 {
		a.ExcludedPaths = append([]string(nil), DefaultExcludedPaths...)
	}
	if a.LoginPath == "" {
		a.LoginPath = DefaultLoginPath
	}
	if a.NoAccessPath == "" {
		a.NoAccessPath = DefaultNoAccessPath
	}
	if a.ShellLoginURL == "" {
		a.ShellLoginURL = DefaultShellLoginURL
	}
	if a.OverrideCookie == "" {
		a.OverrideCookie = DefaultOverrideCookie
	}
	if len(a.PrivilegedRoles) == 0 {
		a.PrivilegedRoles = append([]string(nil), DefaultPrivilegedRoles...)
	}

	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// ProviderKey returns the key sent to the provider, preferring the
// publishable key over the legacy anon key.
func (c *SupabaseConfig) ProviderKey() string {
	if c.PublishableKey != "" {
		return c.PublishableKey
	}
	return c.AnonKey
}

// Configured reports whether both the provider URL and key are present.
func (c *SupabaseConfig) Configured() bool {
	return c.URL != "" && c.ProviderKey() != ""
}

// ----------------- ENV -----------------

// LoadConfigFromEnv builds the configuration for container deployments. The
// provider variables accept the same fallbacks as the frontend build.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:    getEnvAsInt("PORT", 8080),
			BaseURL: getEnv("BASE_URL", ""),
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Supabase: SupabaseConfig{
			URL:            firstEnv("NEXT_PUBLIC_SUPABASE_URL", "SUPABASE_URL"),
			PublishableKey: firstEnv("NEXT_PUBLIC_SUPABASE_PUBLISHABLE_KEY"),
			AnonKey:        firstEnv("NEXT_PUBLIC_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY"),
			JWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
			HTTPTimeout:    getEnvAsDuration("SUPABASE_HTTP_TIMEOUT", 10*time.Second),
			Breaker: BreakerConfig{
				Enabled:          getEnv("SUPABASE_BREAKER_ENABLED", "") == "true",
				FailureThreshold: uint32(getEnvAsInt("SUPABASE_BREAKER_FAILURES", 5)),
			},
		},
		Auth: AuthConfig{
			AppID:                  getEnv("APP_ID", DefaultAppID),
			Backend:                getEnv("AUTH_BACKEND", BackendREST),
			CookieDomain:           firstEnv("NEXT_PUBLIC_COOKIE_DOMAIN", "COOKIE_DOMAIN"),
			Debug:                  firstEnv("NEXT_PUBLIC_DEBUG_AUTH", "DEBUG_AUTH") == "1",
			ExcludedPaths:          splitList(getEnv("AUTH_EXCLUDED_PATHS", "")),
			ShellLoginURL:          firstEnv("NEXT_PUBLIC_SHELL_LOGIN_URL", "SHELL_LOGIN_URL"),
			OverrideCookie:         getEnv("ROLE_OVERRIDE_COOKIE", ""),
			PrivilegedRoles:        splitList(getEnv("ROLE_OVERRIDE_PRIVILEGED", "")),
			ValidateOverrideTarget: getEnv("ROLE_OVERRIDE_VALIDATE_TARGET", "true") == "true",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

var validate = validator.New()

func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		errs = append(errs, fmt.Sprintf("config: %v", err))
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("auth config: %v", err))
	}

	if c.Auth.Backend == BackendPostgres && c.Database.Source == "" {
		errs = append(errs, "auth config: backend postgres requires database.source")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url %s: %w", c.BaseURL, err)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *AuthConfig) Validate() error {
	if strings.Contains(c.AppID, ".") {
		return errors.New("app_id must not contain '.'")
	}
	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.NoAccessPath, "/") {
		return errors.New("login_path and no_access_path must be absolute paths")
	}
	if c.OverrideCookie != "" && strings.HasPrefix(c.OverrideCookie, c.CookiePrefix) {
		return errors.New("override_cookie must not share the session cookie prefix")
	}
	return nil
}
