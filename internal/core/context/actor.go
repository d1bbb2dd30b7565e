// Package context provides request-scoped values shared across layers.
package context

import "context"

type actorKey struct{}

// SystemActor identifies writes made by background jobs rather than a person.
const SystemActor = "system"

// WithActor stores the acting identity (admin login, "system", webhook source)
// in the context. Ledger movements record it as the movement's actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// GetActor returns the acting identity from context or empty string.
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// ActorOrSystem returns the actor from context, falling back to SystemActor.
func ActorOrSystem(ctx context.Context) string {
	if a := GetActor(ctx); a != "" {
		return a
	}
	return SystemActor
}
