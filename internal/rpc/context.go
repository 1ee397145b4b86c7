package rpc

import "context"

type callerKey struct{}

// WithCaller attaches the invoking session's id to ctx. The Bridge sets
// this from its own CCMASTER_SESSION_ID environment variable (inherited
// from the Launcher) on every request it forwards.
func WithCaller(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, callerKey{}, sessionID)
}

// Caller returns the invoking session's id, or "" if the request carried none.
func Caller(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}
