package usecase

import (
	"context"
	"strings"
	"sync"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/ratelimit"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/logger"
)

const maxMessageLength = 4000

// ThreadView is what a chat window renders.
type ThreadView struct {
	ConversationID string              `json:"conversation_id"`
	Peer           *entity.PeerProfile `json:"peer"`
	Messages       []entity.Message    `json:"messages"`
	Minimized      bool                `json:"minimized"`
	Badge          int                 `json:"badge"`
	Draft          string              `json:"draft"`
}

// ChatWindow renders one conversation, sends messages and, while visible,
// marks inbound messages read.
type ChatWindow struct {
	self    string
	peer    *entity.PeerProfile
	convID  string
	store   repository.MessageStore
	limiter *ratelimit.RateLimiter

	mu        sync.Mutex
	messages  map[string]*entity.Message
	requested map[string]bool // ids already sent in a mark-read batch
	draft     string
	minimized bool
	closed    bool
	cursor    repository.Cursor
	listeners []func()
	ctx       context.Context

	done chan struct{}
}

func NewChatWindow(self string, peer *entity.PeerProfile, store repository.MessageStore, limiter *ratelimit.RateLimiter) *ChatWindow {
	return &ChatWindow{
		self:      self,
		peer:      peer,
		convID:    entity.ConversationID(self, peer.UserID),
		store:     store,
		limiter:   limiter,
		messages:  make(map[string]*entity.Message),
		requested: make(map[string]bool),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

func (w *ChatWindow) PeerID() string {
	return w.peer.UserID
}

func (w *ChatWindow) ConversationID() string {
	return w.convID
}

func (w *ChatWindow) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start subscribes to the conversation, oldest message first.
func (w *ChatWindow) Start(ctx context.Context) error {
	cursor, err := w.store.Subscribe(ctx, repository.MessageFilter{ConversationID: w.convID}, repository.OrderByCreatedAt)
	if err != nil {
		logger.Error("ChatWindow: subscribe to %s failed: %v", w.convID, err)
		close(w.done)
		return errors.TransientNetwork("subscribe conversation", err)
	}

	w.mu.Lock()
	w.cursor = cursor
	w.ctx = ctx
	w.mu.Unlock()

	go func() {
		defer close(w.done)
		for ev := range cursor.Events() {
			w.apply(ev)
		}
	}()
	return nil
}

// Close unsubscribes and returns once no further event can reach the
// window.
func (w *ChatWindow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	cursor := w.cursor
	w.mu.Unlock()

	if cursor == nil {
		return
	}
	cursor.Close()
	<-w.done
}

func (w *ChatWindow) apply(ev repository.ChangeEvent) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	m := ev.Message
	switch ev.Kind {
	case repository.ChangeRemoved:
		delete(w.messages, m.ID)
	default:
		if existing, ok := w.messages[m.ID]; ok && existing.Read {
			m.Read = true
		}
		w.messages[m.ID] = &m
	}

	ids := w.collectUnreadLocked()
	ctx := w.ctx
	listeners := w.listeners
	w.mu.Unlock()

	if len(ids) > 0 {
		if err := w.markRead(ctx, ids); err != nil {
			logger.Warn("ChatWindow: mark read in %s failed: %v", w.convID, err)
		}
	}
	notify(listeners)
}

// collectUnreadLocked picks the inbound unread messages not yet requested
// and flags them as requested. Nothing is collected while minimized.
func (w *ChatWindow) collectUnreadLocked() []string {
	if w.minimized || w.closed {
		return nil
	}
	var ids []string
	for id, m := range w.messages {
		if m.UnreadFor(w.self) && !w.requested[id] {
			w.requested[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (w *ChatWindow) markRead(ctx context.Context, ids []string) error {
	if err := w.store.BatchMarkRead(ctx, ids); err != nil {
		w.mu.Lock()
		for _, id := range ids {
			delete(w.requested, id)
		}
		w.mu.Unlock()
		return err
	}
	return nil
}

// Reconcile marks every visible inbound unread message read in one batch.
func (w *ChatWindow) Reconcile(ctx context.Context) error {
	w.mu.Lock()
	ids := w.collectUnreadLocked()
	w.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := w.markRead(ctx, ids); err != nil {
		logger.Warn("ChatWindow: reconcile in %s failed: %v", w.convID, err)
		return err
	}
	return nil
}

// SetMinimized switches between visible and minimized. Becoming visible
// reconciles the backlog before returning.
func (w *ChatWindow) SetMinimized(ctx context.Context, minimized bool) error {
	w.mu.Lock()
	was := w.minimized
	w.minimized = minimized
	listeners := w.listeners
	w.mu.Unlock()

	var err error
	if was && !minimized {
		err = w.Reconcile(ctx)
	}
	if was != minimized {
		notify(listeners)
	}
	return err
}

func (w *ChatWindow) Minimized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.minimized
}

func (w *ChatWindow) SetDraft(text string) {
	w.mu.Lock()
	w.draft = text
	w.mu.Unlock()
}

func (w *ChatWindow) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// Badge counts inbound unread messages while minimized. A visible window
// reads them, so it shows no badge.
func (w *ChatWindow) Badge() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.badgeLocked()
}

func (w *ChatWindow) badgeLocked() int {
	if !w.minimized {
		return 0
	}
	n := 0
	for _, m := range w.messages {
		if m.UnreadFor(w.self) {
			n++
		}
	}
	return n
}

// Thread returns the messages ordered by store timestamp, pending last.
func (w *ChatWindow) Thread() []entity.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.threadLocked()
}

func (w *ChatWindow) threadLocked() []entity.Message {
	ordered := make([]*entity.Message, 0, len(w.messages))
	for _, m := range w.messages {
		ordered = append(ordered, m)
	}
	entity.SortThread(ordered)

	out := make([]entity.Message, len(ordered))
	for i, m := range ordered {
		out[i] = *m
	}
	return out
}

func (w *ChatWindow) View() ThreadView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ThreadView{
		ConversationID: w.convID,
		Peer:           w.peer,
		Messages:       w.threadLocked(),
		Minimized:      w.minimized,
		Badge:          w.badgeLocked(),
		Draft:          w.draft,
	}
}

// Send submits the draft. The draft is cleared only once the store has
// accepted the message, and only if it was not edited in the meantime; a
// failed send keeps it for retry.
func (w *ChatWindow) Send(ctx context.Context) (*entity.Message, error) {
	w.mu.Lock()
	content := w.draft
	closed := w.closed
	w.mu.Unlock()

	if closed {
		return nil, errors.BadRequest("Chat window is closed", nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.BadRequest("Message is empty", nil)
	}
	if len(content) > maxMessageLength {
		return nil, errors.BadRequest("Message is too long", nil)
	}
	if w.limiter != nil {
		if allowed, wait := w.limiter.Allow(w.self, ratelimit.ActionSendMessage); !allowed {
			logger.Warn("ChatWindow: %s rate limited, retry in %v", w.self, wait)
			return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", nil)
		}
	}

	message := &entity.Message{
		ConversationID: w.convID,
		SenderID:       w.self,
		ReceiverID:     w.peer.UserID,
		Content:        content,
		Read:           false,
	}
	if _, err := w.store.Create(ctx, message); err != nil {
		logger.Error("ChatWindow: send in %s failed, draft kept: %v", w.convID, err)
		if errors.Is(err, errors.CodeTransientNetwork) {
			return nil, err
		}
		return nil, errors.TransientNetwork("send message", err)
	}

	w.mu.Lock()
	if w.draft == content {
		w.draft = ""
	}
	if _, seen := w.messages[message.ID]; !seen && !w.closed {
		local := *message
		w.messages[local.ID] = &local
	}
	listeners := w.listeners
	w.mu.Unlock()

	notify(listeners)
	return message, nil
}
