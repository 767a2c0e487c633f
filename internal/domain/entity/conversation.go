package entity

import "time"

// ConversationSummary is derived from the message set and never stored.
type ConversationSummary struct {
	ConversationID string       `json:"conversation_id"`
	PeerID         string       `json:"peer_id"`
	Peer           *PeerProfile `json:"peer,omitempty"`
	LastMessage    string       `json:"last_message"`
	LastMessageAt  time.Time    `json:"last_message_at"`
	LastMessageID  string       `json:"last_message_id,omitempty"`
	UnreadCount    int          `json:"unread_count"`
}
