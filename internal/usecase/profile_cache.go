package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/logger"
)

// AvatarResolver turns a stored avatar reference into a loadable URL.
type AvatarResolver interface {
	ResolveAvatar(ctx context.Context, ref entity.AvatarRef) (string, error)
}

// ProfileCache fetches each peer profile once. Concurrent requests for the
// same peer share one lookup. Not-found results are not cached.
type ProfileCache struct {
	repo    repository.ProfileRepository
	avatars AvatarResolver

	mu       sync.RWMutex
	profiles map[string]*entity.PeerProfile
	group    singleflight.Group
}

func NewProfileCache(repo repository.ProfileRepository, avatars AvatarResolver) *ProfileCache {
	return &ProfileCache{
		repo:     repo,
		avatars:  avatars,
		profiles: make(map[string]*entity.PeerProfile),
	}
}

func (c *ProfileCache) Cached(userID string) (*entity.PeerProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	return p, ok
}

func (c *ProfileCache) Get(ctx context.Context, userID string) (*entity.PeerProfile, error) {
	if p, ok := c.Cached(userID); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		if p, ok := c.Cached(userID); ok {
			return p, nil
		}

		profile, err := c.repo.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}

		if c.avatars != nil && profile.AvatarURL == "" {
			url, err := c.avatars.ResolveAvatar(ctx, profile.Avatar)
			if err != nil {
				logger.Warn("Avatar for %s could not be resolved: %v", userID, err)
			}
			profile.AvatarURL = url
		}

		c.mu.Lock()
		c.profiles[userID] = profile
		c.mu.Unlock()
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.PeerProfile), nil
}
