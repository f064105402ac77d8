package userctx

import (
	"context"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// Create a new context with the authenticated user id
func New(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Extract the authenticated user id from the context
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
