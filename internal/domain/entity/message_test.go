package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationIDIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"uid-9", "uid-10"},
		{"same", "same"},
		{"", "x"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]))
	}
	assert.Equal(t, "alice_bob", ConversationID("bob", "alice"))
}

func TestSortThreadPutsPendingLast(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pending := &Message{ID: "p"}
	t3 := &Message{ID: "t3", CreatedAt: base.Add(3 * time.Second)}
	t1 := &Message{ID: "t1", CreatedAt: base.Add(time.Second)}
	t2 := &Message{ID: "t2", CreatedAt: base.Add(2 * time.Second)}

	thread := []*Message{pending, t3, t1, t2}
	SortThread(thread)

	var ids []string
	for _, m := range thread {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"t1", "t2", "t3", "p"}, ids)
}

func TestMessagePeerAndUnread(t *testing.T) {
	m := &Message{SenderID: "a", ReceiverID: "b"}

	assert.Equal(t, "b", m.PeerOf("a"))
	assert.Equal(t, "a", m.PeerOf("b"))
	assert.True(t, m.UnreadFor("b"))
	assert.False(t, m.UnreadFor("a"))

	m.Read = true
	assert.False(t, m.UnreadFor("b"))
}

func TestOrderTimeDefaultsToNow(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now, (&Message{}).OrderTime(now))
}
