package logging

import "context"

type attemptIDKey struct{}

// ContextWithAttemptID stores the attempt identifier for downstream loggers.
func ContextWithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptIDKey{}, attemptID)
}

// AttemptIDFromContext returns the attempt identifier, or "" when absent.
func AttemptIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(attemptIDKey{}).(string)
	return id
}
