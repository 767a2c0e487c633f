package repository

import (
	"context"

	"rentalchat/internal/domain/entity"
)

// SessionStore persists the window flags of one login session under a
// logical key (entity.ChannelOpenWindows, entity.ChannelMinimized).
type SessionStore interface {
	Load(ctx context.Context, sessionID, key string) (entity.FlagMap, error)
	Save(ctx context.Context, sessionID, key string, flags entity.FlagMap) error
}
