package logging

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	relayIDKey   contextKey = "relay_id"
	componentKey contextKey = "component"
	agentKey     contextKey = "agent"
)

// WithSession returns a context carrying the session ID.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithRelay returns a context carrying the relay ID.
func WithRelay(ctx context.Context, relayID string) context.Context {
	return context.WithValue(ctx, relayIDKey, relayID)
}

// WithComponent returns a context carrying the component name
// (e.g. "hooks", "streamer", "approval").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithAgent returns a context carrying the agent name.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}
