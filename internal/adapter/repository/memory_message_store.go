package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/errors"
)

// MemoryMessageStore is an in-process message store with live cursors.
// It backs development mode and the tests. With deferred timestamps a new
// message is published without CreatedAt and only gets one on
// ResolveTimestamps, the way a remote store echoes a local write.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]*entity.Message
	cursors  map[string]*memoryCursor
	now      func() time.Time
	deferTS  bool
	failure  error
}

type MemoryStoreOption func(*MemoryMessageStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryMessageStore) {
		s.now = now
	}
}

func WithDeferredTimestamps() MemoryStoreOption {
	return func(s *MemoryMessageStore) {
		s.deferTS = true
	}
}

func NewMemoryMessageStore(opts ...MemoryStoreOption) *MemoryMessageStore {
	s := &MemoryMessageStore{
		messages: make(map[string]*entity.Message),
		cursors:  make(map[string]*memoryCursor),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFailure makes every write fail with err until cleared with nil.
func (s *MemoryMessageStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemoryMessageStore) Create(ctx context.Context, message *entity.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return "", errors.TransientNetwork("create message", s.failure)
	}

	stored := *message
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.ConversationID == "" {
		stored.ConversationID = entity.ConversationID(stored.SenderID, stored.ReceiverID)
	}
	if s.deferTS {
		stored.CreatedAt = time.Time{}
	} else {
		stored.CreatedAt = s.now()
	}

	s.messages[stored.ID] = &stored
	message.ID = stored.ID
	message.ConversationID = stored.ConversationID
	message.CreatedAt = stored.CreatedAt

	s.publish(repository.ChangeAdded, &stored)
	return stored.ID, nil
}

// ResolveTimestamps assigns CreatedAt to every pending message, in the
// given id order first and then in any order, and publishes the changes.
func (s *MemoryMessageStore) ResolveTimestamps(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := append([]string{}, ids...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for id, m := range s.messages {
		if m.Pending() && !seen[id] {
			order = append(order, id)
		}
	}

	for _, id := range order {
		m, ok := s.messages[id]
		if !ok || !m.Pending() {
			continue
		}
		m.CreatedAt = s.now()
		s.publish(repository.ChangeModified, m)
	}
}

// Put inserts a message as-is, keeping its id and timestamp.
func (s *MemoryMessageStore) Put(message entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message.ConversationID == "" {
		message.ConversationID = entity.ConversationID(message.SenderID, message.ReceiverID)
	}
	kind := repository.ChangeAdded
	if _, ok := s.messages[message.ID]; ok {
		kind = repository.ChangeModified
	}
	s.messages[message.ID] = &message
	s.publish(kind, &message)
}

func (s *MemoryMessageStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return
	}
	delete(s.messages, id)
	s.publish(repository.ChangeRemoved, m)
}

// Get returns a copy of the stored message.
func (s *MemoryMessageStore) Get(id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return entity.Message{}, false
	}
	return *m, true
}

// Subscribers returns the number of live cursors.
func (s *MemoryMessageStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

func (s *MemoryMessageStore) Subscribe(ctx context.Context, filter repository.MessageFilter, order repository.OrderKey) (repository.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return nil, errors.TransientNetwork("subscribe messages", s.failure)
	}

	c := &memoryCursor{
		id:      uuid.New().String(),
		store:   s,
		filter:  filter,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		events:  make(chan repository.ChangeEvent),
	}

	var initial []*entity.Message
	for _, m := range s.messages {
		if filter.Matches(m) {
			initial = append(initial, m)
		}
	}
	entity.SortThread(initial)
	if order.Descending {
		for i, j := 0, len(initial)-1; i < j; i, j = i+1, j-1 {
			initial[i], initial[j] = initial[j], initial[i]
		}
	}
	for _, m := range initial {
		c.push(repository.ChangeEvent{Kind: repository.ChangeAdded, Message: *m})
	}

	s.cursors[c.id] = c
	go c.run()
	return c, nil
}

func (s *MemoryMessageStore) BatchMarkRead(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return errors.TransientNetwork("mark messages read", s.failure)
	}

	var changed []*entity.Message
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Read {
			continue
		}
		changed = append(changed, m)
	}
	for _, m := range changed {
		m.Read = true
	}
	for _, m := range changed {
		s.publish(repository.ChangeModified, m)
	}
	return nil
}

// publish must be called with s.mu held.
func (s *MemoryMessageStore) publish(kind repository.ChangeKind, m *entity.Message) {
	for _, c := range s.cursors {
		if c.filter.Matches(m) {
			c.push(repository.ChangeEvent{Kind: kind, Message: *m})
		}
	}
}

func (s *MemoryMessageStore) detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, id)
}

type memoryCursor struct {
	id     string
	store  *MemoryMessageStore
	filter repository.MessageFilter

	mu    sync.Mutex
	queue []repository.ChangeEvent

	notify    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	events    chan repository.ChangeEvent
	closeOnce sync.Once
}

func (c *memoryCursor) Events() <-chan repository.ChangeEvent {
	return c.events
}

func (c *memoryCursor) Close() {
	c.closeOnce.Do(func() {
		c.store.detach(c.id)
		close(c.done)
		<-c.stopped
	})
}

func (c *memoryCursor) push(ev repository.ChangeEvent) {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *memoryCursor) run() {
	defer close(c.stopped)
	defer close(c.events)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.notify:
				continue
			case <-c.done:
				return
			}
		}
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
