package repository

import (
	"context"

	"rentalchat/internal/domain/entity"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent carries the full current snapshot of the changed message.
type ChangeEvent struct {
	Kind    ChangeKind
	Message entity.Message
}

// MessageFilter selects messages by equality on the set fields. Empty
// fields are not filtered on.
type MessageFilter struct {
	SenderID       string
	ReceiverID     string
	ConversationID string
}

func (f MessageFilter) Matches(m *entity.Message) bool {
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.ReceiverID != "" && m.ReceiverID != f.ReceiverID {
		return false
	}
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	return true
}

type OrderKey struct {
	Field      string
	Descending bool
}

// OrderByCreatedAt is the only ordering the chat uses.
var OrderByCreatedAt = OrderKey{Field: "createdAt"}

// Cursor is a live subscription. Close is synchronous: once it returns no
// further event is delivered on Events, which is then closed.
type Cursor interface {
	Events() <-chan ChangeEvent
	Close()
}

type MessageStore interface {
	// Create stores the message and returns its id. The store assigns
	// CreatedAt; subscribers may see the message before that happens.
	Create(ctx context.Context, message *entity.Message) (string, error)
	Subscribe(ctx context.Context, filter MessageFilter, order OrderKey) (Cursor, error)
	// BatchMarkRead sets read=true on all ids in one atomic update.
	// Messages already read are left untouched.
	BatchMarkRead(ctx context.Context, ids []string) error
}
