// Package broadcast mirrors session-scoped state between the tabs of one
// login session. Every envelope carries the full current map for one
// logical channel; receivers decide how to fold it into their own copy.
package broadcast

import (
	"context"

	"rentalchat/internal/domain/entity"
)

type Envelope struct {
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"` // entity.ChannelOpenWindows or entity.ChannelMinimized
	Origin    string         `json:"origin"`  // publishing tab
	Flags     entity.FlagMap `json:"flags"`
}

type Subscription interface {
	Messages() <-chan Envelope
	Close()
}

type Broadcaster interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}
