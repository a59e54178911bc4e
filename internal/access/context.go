package access

import (
	"context"
	"strings"
)

// Actor carries the authenticated caller identity through an operation.
// UserID is always the real caller; EffectiveUserID is the user whose data
// the operation targets, which differs only under impersonation.
type Actor struct {
	UserID          string
	EffectiveUserID string
}

// NewActor builds an Actor acting as itself.
func NewActor(userID string) Actor {
	return Actor{UserID: userID, EffectiveUserID: userID}
}

// Effective returns the user id operations should read and write for.
func (a Actor) Effective() string {
	if a.EffectiveUserID != "" {
		return a.EffectiveUserID
	}
	return a.UserID
}

// Impersonating reports whether the actor operates on someone else's data.
func (a Actor) Impersonating() bool {
	return a.EffectiveUserID != "" && a.EffectiveUserID != a.UserID
}

type actorContextKey struct{}

// ContextWithActor attaches the resolved actor to the context for boundary
// layers that cannot thread it as an argument.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || strings.TrimSpace(a.UserID) == "" {
		return Actor{}, false
	}
	return a, true
}
