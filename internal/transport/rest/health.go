package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// ProviderState reports the identity provider configuration and breaker
// state.
type ProviderState func() (configured bool, breaker string)

type HealthHandler struct {
	db       *sql.DB
	provider ProviderState
}

// NewHealthHandler accepts a nil db when no database is configured.
func NewHealthHandler(db *sql.DB, provider ProviderState) *HealthHandler {
	return &HealthHandler{db: db, provider: provider}
}

// pingHandler reports liveness only.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "OK"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// healthCheckHandler checks the database and the identity provider breaker.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]CheckEntry, 2)
	overall := HealthHealthy

	if h.db != nil {
		entry := h.checkDatabase(r.Context())
		components["postgres"] = entry
		if entry.Status == HealthUnhealthy {
			overall = HealthUnhealthy
		}
	}

	if h.provider != nil {
		entry := CheckEntry{Status: HealthHealthy, CheckedAt: time.Now()}
		configured, breaker := h.provider()
		switch {
		case !configured:
			entry.Status = HealthUnhealthy
			entry.Message = "identity provider url or key not configured"
		case breaker == "open":
			entry.Status = HealthUnhealthy
			entry.Message = "circuit breaker open"
		}
		if breaker != "" {
			entry.Details = map[string]any{"breaker": breaker}
		}
		components["identity_provider"] = entry
		if entry.Status == HealthUnhealthy {
			overall = HealthUnhealthy
		}
	}

	resp := HealthResponse{
		Status:     overall,
		CheckedAt:  time.Now(),
		Components: components,
	}

	statusCode := http.StatusOK
	if overall == HealthUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckEntry {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)

	entry := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Status = HealthUnhealthy
		entry.Message = err.Error()
	}
	return entry
}
