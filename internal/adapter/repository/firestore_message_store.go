package repository

import (
	"context"
	"log"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/errors"
)

const messagesCollection = "messages"

// Firestore caps a transaction at 500 writes.
const maxBatchWrites = 500

type firestoreMessageStore struct {
	client *firestore.Client
}

func NewFirestoreMessageStore(client *firestore.Client) repository.MessageStore {
	return &firestoreMessageStore{
		client: client,
	}
}

func (s *firestoreMessageStore) Create(ctx context.Context, message *entity.Message) (string, error) {
	if message.ConversationID == "" {
		message.ConversationID = entity.ConversationID(message.SenderID, message.ReceiverID)
	}

	ref := s.client.Collection(messagesCollection).NewDoc()
	_, err := ref.Create(ctx, map[string]interface{}{
		"conversationId": message.ConversationID,
		"senderId":       message.SenderID,
		"receiverId":     message.ReceiverID,
		"content":        message.Content,
		"createdAt":      firestore.ServerTimestamp,
		"read":           message.Read,
	})
	if err != nil {
		return "", errors.TransientNetwork("create message", err)
	}

	message.ID = ref.ID
	return ref.ID, nil
}

func (s *firestoreMessageStore) Subscribe(ctx context.Context, filter repository.MessageFilter, order repository.OrderKey) (repository.Cursor, error) {
	query := s.client.Collection(messagesCollection).Query
	if filter.SenderID != "" {
		query = query.Where("senderId", "==", filter.SenderID)
	}
	if filter.ReceiverID != "" {
		query = query.Where("receiverId", "==", filter.ReceiverID)
	}
	if filter.ConversationID != "" {
		query = query.Where("conversationId", "==", filter.ConversationID)
	}

	direction := firestore.Asc
	if order.Descending {
		direction = firestore.Desc
	}
	field := order.Field
	if field == "" {
		field = repository.OrderByCreatedAt.Field
	}
	query = query.OrderBy(field, direction)

	// The listener outlives the caller's request; Close ends it.
	listenCtx, cancel := context.WithCancel(context.Background())
	cursor := &firestoreCursor{
		events:  make(chan repository.ChangeEvent),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		cancel:  cancel,
	}
	go cursor.run(query.Snapshots(listenCtx))

	return cursor, nil
}

func (s *firestoreMessageStore) BatchMarkRead(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += maxBatchWrites {
		end := start + maxBatchWrites
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.markChunk(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *firestoreMessageStore) markChunk(ctx context.Context, ids []string) error {
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.client.Collection(messagesCollection).Doc(id))
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if !doc.Exists() {
				continue
			}
			read, err := doc.DataAt("read")
			if err == nil {
				if b, ok := read.(bool); ok && b {
					continue
				}
			}
			if err := tx.Update(doc.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.TransientNetwork("mark messages read", err)
	}
	return nil
}

type firestoreCursor struct {
	events    chan repository.ChangeEvent
	done      chan struct{}
	stopped   chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *firestoreCursor) Events() <-chan repository.ChangeEvent {
	return c.events
}

func (c *firestoreCursor) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		<-c.stopped
	})
}

func (c *firestoreCursor) run(it *firestore.QuerySnapshotIterator) {
	defer close(c.stopped)
	defer close(c.events)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			select {
			case <-c.done:
			default:
				if status.Code(err) != codes.Canceled {
					log.Printf("Firestore listener stopped: %v", err)
				}
			}
			return
		}

		for _, change := range snap.Changes {
			var message entity.Message
			if err := change.Doc.DataTo(&message); err != nil {
				log.Printf("Error parsing message %s: %v", change.Doc.Ref.ID, err)
				continue
			}
			message.ID = change.Doc.Ref.ID

			select {
			case c.events <- repository.ChangeEvent{Kind: changeKind(change.Kind), Message: message}:
			case <-c.done:
				return
			}
		}
	}
}

func changeKind(kind firestore.DocumentChangeKind) repository.ChangeKind {
	switch kind {
	case firestore.DocumentModified:
		return repository.ChangeModified
	case firestore.DocumentRemoved:
		return repository.ChangeRemoved
	default:
		return repository.ChangeAdded
	}
}
