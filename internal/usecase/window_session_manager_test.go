package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterrepo "rentalchat/internal/adapter/repository"
	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/broadcast"
	apperrors "rentalchat/pkg/errors"
)

type sessionFixture struct {
	messages *adapterrepo.MemoryMessageStore
	users    *adapterrepo.MemoryUserRepository
	sessions repository.SessionStore
	bus      *broadcast.Bus
	profiles *ProfileCache
}

func newSessionFixture() *sessionFixture {
	users := newTestUsers()
	return &sessionFixture{
		messages: adapterrepo.NewMemoryMessageStore(),
		users:    users,
		sessions: adapterrepo.NewMemorySessionStore(),
		bus:      broadcast.NewBus(),
		profiles: NewProfileCache(users, nil),
	}
}

func (f *sessionFixture) startTab(t *testing.T, tabID string) *WindowSessionManager {
	t.Helper()
	m := NewWindowSessionManager(Tab{UserID: "alice", SessionID: "s1", TabID: tabID}, f.sessions, f.bus, f.users, f.profiles, f.messages, nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func (f *sessionFixture) persisted(t *testing.T, channel string) entity.FlagMap {
	t.Helper()
	flags, err := f.sessions.Load(context.Background(), "s1", channel)
	require.NoError(t, err)
	return flags
}

func TestOpenWindowPersistsAndReachesOtherTabs(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	tab2 := f.startTab(t, "tab-2")

	require.NoError(t, tab1.OpenWindow(context.Background(), "bob"))

	assert.Equal(t, []entity.WindowView{{PeerID: "bob", Open: true}}, tab1.Windows())
	_, ok := tab1.Window("bob")
	assert.True(t, ok)
	assert.True(t, f.persisted(t, entity.ChannelOpenWindows)["bob"].Value)
	assert.False(t, f.persisted(t, entity.ChannelMinimized)["bob"].Value)

	require.Eventually(t, func() bool {
		_, ok := tab2.Window("bob")
		return ok && len(tab2.Windows()) == 1
	}, waitFor, tick)
}

func TestOpenWindowNeedsProfile(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")

	err := tab.OpenWindow(context.Background(), "ghost")
	assert.True(t, apperrors.Is(err, apperrors.CodeMissingProfile))
	assert.Empty(t, tab.Windows())
	assert.Empty(t, f.persisted(t, entity.ChannelOpenWindows))

	err = tab.OpenWindow(context.Background(), "alice")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestOpenWindowFailsOnProfileOutage(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")

	f.users.SetFailure(errors.New("offline"))
	err := tab.OpenWindow(context.Background(), "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeTransientNetwork))
	assert.Empty(t, tab.Windows())
}

func TestOpenWindowRollsBackWhenThreadCannotStart(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	tab2 := f.startTab(t, "tab-2")

	f.messages.SetFailure(errors.New("offline"))
	err := tab1.OpenWindow(context.Background(), "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeTransientNetwork))
	assert.Empty(t, tab1.Windows())
	_, ok := tab1.Window("bob")
	assert.False(t, ok)
	assert.Empty(t, f.persisted(t, entity.ChannelOpenWindows))
	assert.Empty(t, tab2.Windows())

	f.messages.SetFailure(nil)
	require.NoError(t, tab1.OpenWindow(context.Background(), "bob"))
	_, ok = tab1.Window("bob")
	assert.True(t, ok)
	assert.True(t, f.persisted(t, entity.ChannelOpenWindows)["bob"].Value)
}

func TestOldClosesAreDroppedFromStoredState(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")
	ctx := context.Background()

	require.NoError(t, tab.OpenWindow(ctx, "carol"))
	require.NoError(t, tab.CloseWindow(ctx, "carol"))
	assert.Contains(t, f.persisted(t, entity.ChannelOpenWindows), "carol")

	for i := 0; i < entity.TombstoneHorizon; i++ {
		require.NoError(t, tab.OpenWindow(ctx, "bob"))
		require.NoError(t, tab.CloseWindow(ctx, "bob"))
	}

	open := f.persisted(t, entity.ChannelOpenWindows)
	assert.NotContains(t, open, "carol")
	assert.NotContains(t, f.persisted(t, entity.ChannelMinimized), "carol")
	assert.False(t, open["bob"].Value)
	assert.Contains(t, open, "bob")
	assert.NotContains(t, tab.State().Open, "carol")

	require.NoError(t, tab.OpenWindow(ctx, "carol"))
	assert.Len(t, tab.Windows(), 1)
}

func TestToggleMinimizeRequiresOpenWindow(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")

	_, err := tab.ToggleMinimize(context.Background(), "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))

	err = tab.CloseWindow(context.Background(), "bob")
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))
}

func TestToggleMinimizeReconcilesOnRestore(t *testing.T) {
	f := newSessionFixture()
	f.messages.Put(inbound("m1", "bob", base))
	tab := f.startTab(t, "tab-1")

	require.NoError(t, tab.OpenWindow(context.Background(), "bob"))
	require.Eventually(t, func() bool {
		m, _ := f.messages.Get("m1")
		return m.Read
	}, waitFor, tick)

	view, err := tab.ToggleMinimize(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, view.Minimized)
	assert.True(t, f.persisted(t, entity.ChannelMinimized)["bob"].Value)

	w, ok := tab.Window("bob")
	require.True(t, ok)
	f.messages.Put(inbound("m2", "bob", base.Add(time.Minute)))
	require.Eventually(t, func() bool { return w.Badge() == 1 }, waitFor, tick)

	view, err = tab.ToggleMinimize(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, view.Minimized)

	m2, _ := f.messages.Get("m2")
	assert.True(t, m2.Read)
	assert.Equal(t, 0, w.Badge())
}

func TestMinimizeReachesOtherTabs(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	tab2 := f.startTab(t, "tab-2")

	require.NoError(t, tab1.OpenWindow(context.Background(), "bob"))
	require.Eventually(t, func() bool { return len(tab2.Windows()) == 1 }, waitFor, tick)

	_, err := tab1.ToggleMinimize(context.Background(), "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, ok := tab2.Window("bob")
		views := tab2.Windows()
		return ok && w.Minimized() && len(views) == 1 && views[0].Minimized
	}, waitFor, tick)
}

func TestCloseWindowUnsubscribesAndClearsChatActive(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")

	require.NoError(t, tab.OpenWindow(context.Background(), "bob"))
	assert.Equal(t, 1, f.messages.Subscribers())

	require.NoError(t, tab.CloseWindow(context.Background(), "bob"))
	assert.Equal(t, 0, f.messages.Subscribers())
	assert.Empty(t, tab.Windows())
	_, ok := tab.Window("bob")
	assert.False(t, ok)

	closed := f.persisted(t, entity.ChannelOpenWindows)["bob"]
	assert.False(t, closed.Value)

	active, set := f.users.ChatActive("bob", "alice")
	assert.True(t, set)
	assert.False(t, active)
}

func TestCloseWindowIgnoresChatActiveFailure(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")
	require.NoError(t, tab.OpenWindow(context.Background(), "bob"))

	f.users.SetFailure(errors.New("offline"))
	require.NoError(t, tab.CloseWindow(context.Background(), "bob"))
	assert.Empty(t, tab.Windows())
}

func TestCloseReachesOtherTabs(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	tab2 := f.startTab(t, "tab-2")

	require.NoError(t, tab1.OpenWindow(context.Background(), "bob"))
	require.Eventually(t, func() bool { return len(tab2.Windows()) == 1 }, waitFor, tick)

	require.NoError(t, tab2.CloseWindow(context.Background(), "bob"))
	require.Eventually(t, func() bool {
		_, ok := tab1.Window("bob")
		return !ok && len(tab1.Windows()) == 0
	}, waitFor, tick)
	require.Eventually(t, func() bool { return f.messages.Subscribers() == 0 }, waitFor, tick)
}

func TestConcurrentOpensInTwoTabsBothSurvive(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	tab2 := f.startTab(t, "tab-2")

	done := make(chan error, 2)
	go func() { done <- tab1.OpenWindow(context.Background(), "bob") }()
	go func() { done <- tab2.OpenWindow(context.Background(), "carol") }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	for _, tab := range []*WindowSessionManager{tab1, tab2} {
		tab := tab
		require.Eventually(t, func() bool { return len(tab.Windows()) == 2 }, waitFor, tick)
	}
	require.Eventually(t, func() bool {
		open := f.persisted(t, entity.ChannelOpenWindows)
		return open["bob"].Value && open["carol"].Value
	}, waitFor, tick)
}

func TestStaleOpenDoesNotResurrectClosedWindow(t *testing.T) {
	f := newSessionFixture()
	tab := f.startTab(t, "tab-1")
	require.NoError(t, tab.OpenWindow(context.Background(), "bob"))
	require.NoError(t, tab.CloseWindow(context.Background(), "bob"))

	stale := entity.FlagMap{"bob": {Value: true, Rev: 1, Origin: "tab-9"}}
	require.NoError(t, f.bus.Publish(context.Background(), broadcast.Envelope{
		SessionID: "s1",
		Channel:   entity.ChannelOpenWindows,
		Origin:    "tab-9",
		Flags:     stale,
	}))

	assert.Never(t, func() bool { return len(tab.Windows()) > 0 }, 50*time.Millisecond, tick)
}

func TestNewTabRestoresPersistedWindows(t *testing.T) {
	f := newSessionFixture()
	tab1 := f.startTab(t, "tab-1")
	require.NoError(t, tab1.OpenWindow(context.Background(), "bob"))
	_, err := tab1.ToggleMinimize(context.Background(), "bob")
	require.NoError(t, err)
	tab1.Stop()

	assert.True(t, f.persisted(t, entity.ChannelOpenWindows)["bob"].Value)

	tab3 := f.startTab(t, "tab-3")
	assert.Equal(t, []entity.WindowView{{PeerID: "bob", Open: true, Minimized: true}}, tab3.Windows())
	w, ok := tab3.Window("bob")
	require.True(t, ok)
	assert.True(t, w.Minimized())

	require.NoError(t, tab3.OpenWindow(context.Background(), "carol"))
	assert.Len(t, tab3.Windows(), 2)
	assert.Greater(t, tab3.State().MaxRev(), f.persisted(t, entity.ChannelMinimized)["bob"].Rev)
}
