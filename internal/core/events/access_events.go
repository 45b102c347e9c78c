package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRoleOverrideSet     = "role_override.set"
	EventTypeRoleOverrideCleared = "role_override.cleared"
)

type RoleOverrideEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	ActualRole   string `json:"actual_role"`
	OverrideRole string `json:"override_role,omitempty"`
}

func NewRoleOverrideSetEvent(userID, actualRole, overrideRole string) *RoleOverrideEvent {
	return newRoleOverrideEvent(EventTypeRoleOverrideSet, userID, actualRole, overrideRole)
}

func NewRoleOverrideClearedEvent(userID, actualRole string) *RoleOverrideEvent {
	return newRoleOverrideEvent(EventTypeRoleOverrideCleared, userID, actualRole, "")
}

func newRoleOverrideEvent(eventType, userID, actualRole, overrideRole string) *RoleOverrideEvent {
	return &RoleOverrideEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"user_id":       userID,
				"actual_role":   actualRole,
				"override_role": overrideRole,
			},
		},
		UserID:       userID,
		ActualRole:   actualRole,
		OverrideRole: overrideRole,
	}
}

// SubscribeAudit writes every access event to logger.
func SubscribeAudit(bus *EventBus, logger *slog.Logger) {
	audit := func(ctx context.Context, event Event) error {
		logger.InfoContext(ctx, "access audit",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"occurred_at", event.OccurredAt(),
			"data", event.Payload())
		return nil
	}
	bus.Subscribe(EventTypeRoleOverrideSet, audit)
	bus.Subscribe(EventTypeRoleOverrideCleared, audit)
}
