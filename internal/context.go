package internal

import (
	"context"
)

type ctxKey string

const (
	ContextUserKey       ctxKey = "userID"
	ContextActingRoleKey ctxKey = "actingRole"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if userID, ok := ctx.Value(ContextUserKey).(string); ok {
		return userID
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextUserKey, userID)
}

// ActingRoleFromContext returns the role override applied to the request, or
// "" when the caller acts under their real role.
func ActingRoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if role, ok := ctx.Value(ContextActingRoleKey).(string); ok {
		return role
	}
	return ""
}

func ContextWithActingRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ContextActingRoleKey, role)
}
