// Package notify sends short status messages back to users on the chat
// platform. Delivery is best effort; callers log and move on.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a text message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Log writes notifications to the structured log instead of sending them.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, userID, text string) error {
	log.Info().Str("user_id", userID).Str("text", text).Msg("notification")
	return nil
}
