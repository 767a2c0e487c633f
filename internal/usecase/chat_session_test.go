package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/ratelimit"
	apperrors "rentalchat/pkg/errors"
)

type eventLog struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (l *eventLog) record(ev SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) last(kind string) (SessionEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == kind {
			return l.events[i], true
		}
	}
	return SessionEvent{}, false
}

func newTestRegistry(f *sessionFixture) *SessionRegistry {
	return NewSessionRegistry(SessionDeps{
		Messages:    f.messages,
		Sessions:    f.sessions,
		Broadcaster: f.bus,
		Activity:    f.users,
		Profiles:    f.profiles,
		Limiter:     ratelimit.NewRateLimiter(10),
	})
}

func TestSessionOpenConversationFlow(t *testing.T) {
	f := newSessionFixture()
	f.messages.Put(inbound("m1", "bob", base))
	registry := newTestRegistry(f)
	defer registry.StopAll()

	tab := Tab{UserID: "alice", SessionID: "s1", TabID: "tab-1"}
	session, err := registry.Attach(context.Background(), tab)
	require.NoError(t, err)

	log := &eventLog{}
	stop := session.Listen(log.record)
	defer stop()

	require.Eventually(t, func() bool { return session.ConversationList().TotalUnread == 1 }, waitFor, tick)

	require.NoError(t, session.Conversations.Open(context.Background(), "bob"))
	assert.Equal(t, 0, session.ConversationList().TotalUnread)

	w, err := session.Window("bob")
	require.NoError(t, err)
	w.SetDraft("when can I visit?")
	_, err = w.Send(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ev, ok := log.last(EventThread)
		if !ok {
			return false
		}
		view := ev.Data.(ThreadView)
		return len(view.Messages) == 2 && view.Draft == ""
	}, waitFor, tick)

	_, ok := log.last(EventWindows)
	assert.True(t, ok)
	require.Eventually(t, func() bool {
		list := session.ConversationList()
		return len(list.Conversations) == 1 && list.Conversations[0].LastMessage == "when can I visit?"
	}, waitFor, tick)

	again, err := registry.Attach(context.Background(), tab)
	require.NoError(t, err)
	assert.Same(t, session, again)
}

func TestSessionDetachReleasesSubscriptions(t *testing.T) {
	f := newSessionFixture()
	registry := newTestRegistry(f)

	tab := Tab{UserID: "alice", SessionID: "s1", TabID: "tab-1"}
	session, err := registry.Attach(context.Background(), tab)
	require.NoError(t, err)
	require.NoError(t, session.Windows.OpenWindow(context.Background(), "bob"))
	assert.Equal(t, 3, f.messages.Subscribers())

	registry.Detach(tab)
	assert.Equal(t, 0, f.messages.Subscribers())
	assert.Equal(t, 0, registry.Count())

	// the window stays open for the session
	open, err := f.sessions.Load(context.Background(), "s1", "openWindows")
	require.NoError(t, err)
	assert.True(t, open["bob"].Value)
}

func TestSessionAttachValidatesTab(t *testing.T) {
	registry := newTestRegistry(newSessionFixture())

	_, err := registry.Attach(context.Background(), Tab{SessionID: "s1", TabID: "t"})
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))

	_, err = registry.Attach(context.Background(), Tab{UserID: "alice"})
	assert.True(t, apperrors.Is(err, apperrors.CodeBadRequest))

	_, ok := registry.Get(Tab{UserID: "alice", SessionID: "s1", TabID: "t"})
	assert.False(t, ok)
}

func TestSweepStopsIdleSessions(t *testing.T) {
	f := newSessionFixture()
	registry := newTestRegistry(f)

	listening, err := registry.Attach(context.Background(), Tab{UserID: "alice", SessionID: "s1", TabID: "tab-1"})
	require.NoError(t, err)
	stop := listening.Listen(func(SessionEvent) {})
	defer stop()
	_, err = registry.Attach(context.Background(), Tab{UserID: "alice", SessionID: "s1", TabID: "tab-2"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, registry.Sweep(time.Millisecond))
	assert.Equal(t, 1, registry.Count())
	registry.StopAll()
}

// slowSessionStore delays loads of one browser session.
type slowSessionStore struct {
	repository.SessionStore
	slowSession string
	delay       time.Duration

	mu    sync.Mutex
	loads int
}

func (s *slowSessionStore) Load(ctx context.Context, sessionID, key string) (entity.FlagMap, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	if sessionID == s.slowSession {
		time.Sleep(s.delay)
	}
	return s.SessionStore.Load(ctx, sessionID, key)
}

func (s *slowSessionStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func TestAttachDoesNotWaitForOtherTabs(t *testing.T) {
	f := newSessionFixture()
	f.sessions = &slowSessionStore{SessionStore: f.sessions, slowSession: "slow", delay: 300 * time.Millisecond}
	registry := newTestRegistry(f)
	defer registry.StopAll()

	slowDone := make(chan error, 1)
	go func() {
		_, err := registry.Attach(context.Background(), Tab{UserID: "alice", SessionID: "slow", TabID: "tab-1"})
		slowDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	started := time.Now()
	_, err := registry.Attach(context.Background(), Tab{UserID: "bob", SessionID: "fast", TabID: "tab-1"})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 200*time.Millisecond)

	require.NoError(t, <-slowDone)
	assert.Equal(t, 2, registry.Count())
}

func TestConcurrentAttachOfOneTabSharesSession(t *testing.T) {
	f := newSessionFixture()
	store := &slowSessionStore{SessionStore: f.sessions, slowSession: "s1", delay: 100 * time.Millisecond}
	f.sessions = store
	registry := newTestRegistry(f)
	defer registry.StopAll()

	tab := Tab{UserID: "alice", SessionID: "s1", TabID: "tab-1"}
	sessions := make([]*ChatSession, 8)
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := registry.Attach(context.Background(), tab)
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, registry.Count())
	// one start loads the open and minimized channels once
	assert.Equal(t, 2, store.loadCount())
}
