package repository

import (
	"context"

	"rentalchat/internal/domain/entity"
)

// ProfileRepository looks up peer profiles. A missing user yields an
// AppError with code MISSING_PROFILE.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*entity.PeerProfile, error)
}

// ChatActivityRepository writes the per-user "chat active" flags owned by
// the rest of the platform.
type ChatActivityRepository interface {
	SetChatActive(ctx context.Context, userID, peerID string, active bool) error
}
