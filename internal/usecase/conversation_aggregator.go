package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/logger"
)

// WindowOpener opens or focuses the chat window for a peer.
type WindowOpener interface {
	OpenWindow(ctx context.Context, peerID string) error
}

type conversationState struct {
	summary   entity.ConversationSummary
	lastExact bool                // LastMessageAt is a store timestamp, not a pending "now"
	unread    map[string]struct{} // inbound messages with read=false
	knownRead map[string]struct{} // never counted as unread again
	// read=true or removed according to an event; a failed mark-read
	// never restores these
	confirmedRead map[string]struct{}
	// newest resolved message passed over while a pending one was last
	runnerUp *entity.Message
	lookedUp bool
}

// ConversationAggregator merges the "sent by me" and "received by me"
// streams into one summary per conversation.
//
// Every transition is keyed by message id, so a duplicate or replayed event
// leaves the summaries unchanged. Unread counts are the size of the set of
// inbound unread ids, which keeps them equal to the live count.
type ConversationAggregator struct {
	self     string
	store    repository.MessageStore
	profiles *ProfileCache
	windows  WindowOpener
	now      func() time.Time

	mu        sync.Mutex
	convs     map[string]*conversationState
	listeners []func()
	cursors   []repository.Cursor
	ctx       context.Context
	stopped   bool

	wg sync.WaitGroup
}

func NewConversationAggregator(self string, store repository.MessageStore, profiles *ProfileCache, windows WindowOpener) *ConversationAggregator {
	return &ConversationAggregator{
		self:     self,
		store:    store,
		profiles: profiles,
		windows:  windows,
		now:      time.Now,
		convs:    make(map[string]*conversationState),
		ctx:      context.Background(),
	}
}

// OnChange registers fn to run after every change to the summaries.
func (a *ConversationAggregator) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Start subscribes to both streams and applies their events until Stop.
func (a *ConversationAggregator) Start(ctx context.Context) error {
	sent, err := a.store.Subscribe(ctx, repository.MessageFilter{SenderID: a.self}, repository.OrderByCreatedAt)
	if err != nil {
		logger.Error("Aggregator: subscribe to sent messages of %s failed: %v", a.self, err)
		return errors.TransientNetwork("subscribe sent messages", err)
	}
	received, err := a.store.Subscribe(ctx, repository.MessageFilter{ReceiverID: a.self}, repository.OrderByCreatedAt)
	if err != nil {
		sent.Close()
		logger.Error("Aggregator: subscribe to received messages of %s failed: %v", a.self, err)
		return errors.TransientNetwork("subscribe received messages", err)
	}

	a.mu.Lock()
	a.ctx = ctx
	a.cursors = []repository.Cursor{sent, received}
	a.mu.Unlock()

	for _, cursor := range []repository.Cursor{sent, received} {
		a.wg.Add(1)
		go func(c repository.Cursor) {
			defer a.wg.Done()
			for ev := range c.Events() {
				a.Apply(ev)
			}
		}(cursor)
	}
	return nil
}

// Stop closes both cursors. No event is applied after it returns.
func (a *ConversationAggregator) Stop() {
	a.mu.Lock()
	a.stopped = true
	cursors := a.cursors
	a.cursors = nil
	a.mu.Unlock()

	for _, c := range cursors {
		c.Close()
	}
	a.wg.Wait()
}

// Apply folds one change event into the summaries.
func (a *ConversationAggregator) Apply(ev repository.ChangeEvent) {
	m := ev.Message
	if m.SenderID != a.self && m.ReceiverID != a.self {
		return
	}
	convID := m.ConversationID
	if convID == "" {
		convID = entity.ConversationID(m.SenderID, m.ReceiverID)
	}
	peerID := m.PeerOf(a.self)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}

	state, ok := a.convs[convID]
	if !ok {
		state = &conversationState{
			summary:       entity.ConversationSummary{ConversationID: convID, PeerID: peerID},
			unread:        make(map[string]struct{}),
			knownRead:     make(map[string]struct{}),
			confirmedRead: make(map[string]struct{}),
		}
		a.convs[convID] = state
	}

	needProfile := false
	if state.summary.Peer == nil {
		if p, ok := a.profiles.Cached(peerID); ok {
			state.summary.Peer = p
		} else if !state.lookedUp {
			state.lookedUp = true
			needProfile = true
		}
	}

	switch ev.Kind {
	case repository.ChangeRemoved:
		delete(state.unread, m.ID)
		state.confirmedRead[m.ID] = struct{}{}
		if state.runnerUp != nil && state.runnerUp.ID == m.ID {
			state.runnerUp = nil
		}
	default:
		a.updateLastMessage(state, &m)
		if m.Read {
			state.knownRead[m.ID] = struct{}{}
			state.confirmedRead[m.ID] = struct{}{}
		}
		_, read := state.knownRead[m.ID]
		if m.InboundFor(a.self) && !read {
			state.unread[m.ID] = struct{}{}
		} else {
			delete(state.unread, m.ID)
		}
	}
	state.summary.UnreadCount = len(state.unread)

	ctx := a.ctx
	listeners := a.listeners
	if needProfile {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	if needProfile {
		go a.resolvePeer(ctx, peerID)
	}
	notify(listeners)
}

// updateLastMessage must be called with a.mu held. A pending message
// orders as now; an absent or pending stored value loses ties. When the
// pending last message resolves to a time older than a message passed over
// meanwhile, that message becomes the last one.
func (a *ConversationAggregator) updateLastMessage(state *conversationState, m *entity.Message) {
	s := &state.summary
	at := m.OrderTime(a.now())

	switch {
	case s.LastMessageID == m.ID:
		if rival := state.runnerUp; !m.Pending() && rival != nil && rival.CreatedAt.After(at) {
			previous := *m
			state.runnerUp = &previous
			setLastMessage(state, rival, rival.CreatedAt)
			return
		}
	case s.LastMessageID == "":
	case at.After(s.LastMessageAt):
	case at.Equal(s.LastMessageAt) && !state.lastExact:
	default:
		if !m.Pending() && (state.runnerUp == nil || state.runnerUp.ID == m.ID || at.After(state.runnerUp.CreatedAt)) {
			passed := *m
			state.runnerUp = &passed
		}
		return
	}

	if state.runnerUp != nil && state.runnerUp.ID == m.ID {
		state.runnerUp = nil
	}
	setLastMessage(state, m, at)
}

func setLastMessage(state *conversationState, m *entity.Message, at time.Time) {
	s := &state.summary
	s.LastMessageID = m.ID
	s.LastMessage = m.Content
	s.LastMessageAt = at
	state.lastExact = !m.Pending()
}

func (a *ConversationAggregator) resolvePeer(ctx context.Context, peerID string) {
	defer a.wg.Done()

	profile, err := a.profiles.Get(ctx, peerID)
	if err != nil {
		logger.Warn("Aggregator: profile for peer %s unavailable: %v", peerID, err)
		return
	}

	a.mu.Lock()
	for _, state := range a.convs {
		if state.summary.PeerID == peerID {
			state.summary.Peer = profile
		}
	}
	listeners := a.listeners
	a.mu.Unlock()

	notify(listeners)
}

// List returns the summaries, most recent first.
func (a *ConversationAggregator) List() []entity.ConversationSummary {
	a.mu.Lock()
	out := make([]entity.ConversationSummary, 0, len(a.convs))
	for _, state := range a.convs {
		out = append(out, state.summary)
	}
	a.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

func (a *ConversationAggregator) TotalUnread() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, state := range a.convs {
		total += len(state.unread)
	}
	return total
}

// Open marks every unread inbound message of the conversation with peerID
// read in one batch, zeroes the local count right away and opens the
// window. A failed batch restores the count so it keeps matching the store.
func (a *ConversationAggregator) Open(ctx context.Context, peerID string) error {
	convID := entity.ConversationID(a.self, peerID)

	a.mu.Lock()
	var ids []string
	state, ok := a.convs[convID]
	if ok {
		for id := range state.unread {
			ids = append(ids, id)
			state.knownRead[id] = struct{}{}
		}
		state.unread = make(map[string]struct{})
		state.summary.UnreadCount = 0
	}
	listeners := a.listeners
	a.mu.Unlock()
	notify(listeners)

	if len(ids) > 0 {
		if err := a.store.BatchMarkRead(ctx, ids); err != nil {
			logger.Error("Aggregator: mark read for conversation %s failed: %v", convID, err)
			a.restoreUnread(convID, ids)
		}
	}

	if a.windows == nil {
		return nil
	}
	return a.windows.OpenWindow(ctx, peerID)
}

func (a *ConversationAggregator) restoreUnread(convID string, ids []string) {
	a.mu.Lock()
	state, ok := a.convs[convID]
	if ok {
		for _, id := range ids {
			if _, ok := state.confirmedRead[id]; ok {
				continue
			}
			delete(state.knownRead, id)
			state.unread[id] = struct{}{}
		}
		state.summary.UnreadCount = len(state.unread)
	}
	listeners := a.listeners
	a.mu.Unlock()
	notify(listeners)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
