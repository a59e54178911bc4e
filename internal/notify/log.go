package notify

import (
	"context"

	"gatehouse.org/internal/obs"
)

// LogSender writes invites to the process log. It is the default when no
// broker URL is configured, which keeps local runs dependency free.
type LogSender struct{}

func (LogSender) SendInvite(ctx context.Context, destination, payload string) error {
	obs.Event("invite_sent", map[string]any{
		"destination": destination,
	})
	return nil
}
