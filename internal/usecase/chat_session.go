package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/broadcast"
	"rentalchat/internal/infrastructure/ratelimit"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/logger"
)

// Event types pushed to a tab.
const (
	EventConversations = "conversations"
	EventWindows       = "windows"
	EventThread        = "thread"
)

type SessionEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ConversationList struct {
	Conversations []entity.ConversationSummary `json:"conversations"`
	TotalUnread   int                          `json:"total_unread"`
}

// SessionDeps are the shared collaborators of every tab served by the
// process.
type SessionDeps struct {
	Messages    repository.MessageStore
	Sessions    repository.SessionStore
	Broadcaster broadcast.Broadcaster
	Activity    repository.ChatActivityRepository
	Profiles    *ProfileCache
	Limiter     *ratelimit.RateLimiter
}

// ChatSession is the chat state of one tab: its conversation list and its
// windows.
type ChatSession struct {
	Tab           Tab
	Conversations *ConversationAggregator
	Windows       *WindowSessionManager

	mu        sync.Mutex
	listeners map[int]func(SessionEvent)
	nextID    int
	lastSeen  time.Time
	cancel    context.CancelFunc
}

func NewChatSession(tab Tab, deps SessionDeps) *ChatSession {
	windows := NewWindowSessionManager(tab, deps.Sessions, deps.Broadcaster, deps.Activity, deps.Profiles, deps.Messages, deps.Limiter)
	s := &ChatSession{
		Tab:           tab,
		Windows:       windows,
		Conversations: NewConversationAggregator(tab.UserID, deps.Messages, deps.Profiles, windows),
		listeners:     make(map[int]func(SessionEvent)),
		lastSeen:      time.Now(),
	}

	s.Conversations.OnChange(func() {
		s.emit(SessionEvent{Type: EventConversations, Data: s.ConversationList()})
	})
	windows.OnChange(func() {
		s.emit(SessionEvent{Type: EventWindows, Data: windows.Windows()})
	})
	windows.OnThread(func(view ThreadView) {
		s.emit(SessionEvent{Type: EventThread, Data: view})
	})
	return s
}

// Start brings up the windows before the conversation list so a restored
// window exists before the first summaries arrive.
func (s *ChatSession) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.Windows.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := s.Conversations.Start(runCtx); err != nil {
		s.Windows.Stop()
		cancel()
		return err
	}
	logger.Info("Chat session started: user=%s, session=%s, tab=%s", s.Tab.UserID, s.Tab.SessionID, s.Tab.TabID)
	return nil
}

func (s *ChatSession) Stop() {
	s.Conversations.Stop()
	s.Windows.Stop()

	s.mu.Lock()
	cancel := s.cancel
	s.listeners = make(map[int]func(SessionEvent))
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logger.Info("Chat session stopped: user=%s, session=%s, tab=%s", s.Tab.UserID, s.Tab.SessionID, s.Tab.TabID)
}

func (s *ChatSession) ConversationList() ConversationList {
	return ConversationList{
		Conversations: s.Conversations.List(),
		TotalUnread:   s.Conversations.TotalUnread(),
	}
}

// Window returns the open window for peerID in this tab.
func (s *ChatSession) Window(peerID string) (*ChatWindow, error) {
	w, ok := s.Windows.Window(peerID)
	if !ok {
		return nil, errors.NotFound("Chat window", nil)
	}
	return w, nil
}

// Listen registers fn for every event of the tab and returns a function
// that removes it.
func (s *ChatSession) Listen(fn func(SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *ChatSession) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// idleSince reports when the session was last used. A session with a
// live listener is never idle.
func (s *ChatSession) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen, len(s.listeners) == 0
}

func (s *ChatSession) emit(ev SessionEvent) {
	s.mu.Lock()
	listeners := make([]func(SessionEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// SessionRegistry keeps the live chat session of every connected tab.
type SessionRegistry struct {
	deps     SessionDeps
	starting singleflight.Group

	mu       sync.Mutex
	sessions map[string]*ChatSession
}

func NewSessionRegistry(deps SessionDeps) *SessionRegistry {
	return &SessionRegistry{
		deps:     deps,
		sessions: make(map[string]*ChatSession),
	}
}

// Attach returns the session of tab, starting it on first use.
func (r *SessionRegistry) Attach(ctx context.Context, tab Tab) (*ChatSession, error) {
	if tab.UserID == "" {
		return nil, errors.Unauthorized("User not authenticated", nil)
	}
	if tab.SessionID == "" || tab.TabID == "" {
		return nil, errors.BadRequest("Session and tab ids are required", nil)
	}

	if s, ok := r.Get(tab); ok {
		return s, nil
	}

	// concurrent attaches of one tab share a single start
	v, err, _ := r.starting.Do(tab.key(), func() (interface{}, error) {
		if s, ok := r.Get(tab); ok {
			return s, nil
		}

		s := NewChatSession(tab, r.deps)
		if err := s.Start(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[tab.key()] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatSession), nil
}

func (r *SessionRegistry) Get(tab Tab) (*ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tab.key()]
	if ok {
		s.touch()
	}
	return s, ok
}

// Detach stops the session of tab.
func (r *SessionRegistry) Detach(tab Tab) {
	r.mu.Lock()
	s, ok := r.sessions[tab.key()]
	delete(r.sessions, tab.key())
	r.mu.Unlock()

	if ok {
		s.Stop()
	}
}

func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep stops sessions not used for longer than idle.
func (r *SessionRegistry) Sweep(idle time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	var stale []*ChatSession
	for key, s := range r.sessions {
		if last, idleOK := s.idleSince(); idleOK && now.Sub(last) > idle {
			stale = append(stale, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Stop()
	}
	return len(stale)
}

func (r *SessionRegistry) StartSweeper(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(idle / 4)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(idle); n > 0 {
					logger.Info("Swept %d idle chat sessions", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopAll stops every session, used on shutdown.
func (r *SessionRegistry) StopAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*ChatSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
