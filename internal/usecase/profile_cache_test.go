package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rentalchat/pkg/errors"
)

func TestProfileCacheFetchesOnce(t *testing.T) {
	users := newTestUsers()
	cache := NewProfileCache(users, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := cache.Get(context.Background(), "bob")
			assert.NoError(t, err)
			assert.Equal(t, "bob_renter", p.DisplayName)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, users.Lookups("bob"))
	cached, ok := cache.Cached("bob")
	require.True(t, ok)
	assert.Equal(t, "bob", cached.UserID)
}

func TestProfileCacheDoesNotCacheMissingProfiles(t *testing.T) {
	users := newTestUsers()
	cache := NewProfileCache(users, nil)

	_, err := cache.Get(context.Background(), "ghost")
	assert.True(t, apperrors.Is(err, apperrors.CodeMissingProfile))
	_, err = cache.Get(context.Background(), "ghost")
	assert.Error(t, err)

	assert.Equal(t, 2, users.Lookups("ghost"))
	_, ok := cache.Cached("ghost")
	assert.False(t, ok)
}

func TestProfileCacheResolvesObjectAvatars(t *testing.T) {
	cache := NewProfileCache(newTestUsers(), stubAvatars{url: "https://cdn.example.com/"})

	p, err := cache.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/carol.png", p.AvatarURL)
	assert.Equal(t, "Carol Guest", p.DisplayName)
}

func TestProfileCacheKeepsProfileWhenAvatarFails(t *testing.T) {
	cache := NewProfileCache(newTestUsers(), stubAvatars{err: errors.New("signing failed")})

	p, err := cache.Get(context.Background(), "carol")
	require.NoError(t, err)
	assert.Empty(t, p.AvatarURL)
}
