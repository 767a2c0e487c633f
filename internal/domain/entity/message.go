package entity

import (
	"sort"
	"strings"
	"time"
)

// ConversationDelimiter joins the two sorted participant ids.
const ConversationDelimiter = "_"

type Message struct {
	ID             string    `json:"id" firestore:"-"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	SenderID       string    `json:"sender_id" firestore:"senderId"`
	ReceiverID     string    `json:"receiver_id" firestore:"receiverId"`
	Content        string    `json:"content" firestore:"content"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"` // zero until the store assigns it
	Read           bool      `json:"read" firestore:"read"`
}

// ConversationID derives the id shared by both participants of a direct
// conversation. ConversationID(a, b) == ConversationID(b, a).
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ConversationDelimiter)
}

// Pending reports whether the store has not yet assigned the timestamp.
func (m *Message) Pending() bool {
	return m.CreatedAt.IsZero()
}

// PeerOf returns the participant that is not self.
func (m *Message) PeerOf(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// InboundFor reports whether self is the receiver.
func (m *Message) InboundFor(self string) bool {
	return m.ReceiverID == self
}

// UnreadFor reports whether the message counts toward self's unread badge.
func (m *Message) UnreadFor(self string) bool {
	return m.InboundFor(self) && !m.Read
}

// OrderTime is the timestamp used for ordering. Pending messages order as
// "now" so that they sit behind every resolved message.
func (m *Message) OrderTime(now time.Time) time.Time {
	if m.Pending() {
		return now
	}
	return m.CreatedAt
}

// SortThread orders messages ascending by store timestamp with pending
// messages last. Ties keep receipt order.
func SortThread(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if a.Pending() != b.Pending() {
			return !a.Pending()
		}
		if a.Pending() {
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
