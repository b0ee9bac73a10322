package server

import (
	"context"
)

type contextKey string

const contextKeyUserID contextKey = "userID"

func getUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKeyUserID).(string)
	return userID, ok
}
