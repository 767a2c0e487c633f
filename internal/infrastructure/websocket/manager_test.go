package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalchat/pkg/errors"
)

type stubActions struct {
	got  []ClientMessage
	data interface{}
	err  error
}

func (s *stubActions) HandleAction(ctx context.Context, msg ClientMessage) (interface{}, error) {
	s.got = append(s.got, msg)
	return s.data, s.err
}

func attach(m *Manager, actions ActionHandler) *Client {
	c := NewClient("alice|s1|tab-1", "alice", nil, actions)
	m.clients[c.ID] = c
	return c
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw := <-c.Send:
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	default:
		t.Fatal("no frame queued")
	}
	return frame{}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	m := NewManager()
	c := attach(m, nil)

	m.HandleClientMessage(c, []byte(`{"type":"ping","request_id":"r1"}`))

	f := nextFrame(t, c)
	assert.Equal(t, MessageTypePong, f.Type)
	assert.Equal(t, "r1", f.RequestID)
}

func TestActionIsAcknowledged(t *testing.T) {
	m := NewManager()
	actions := &stubActions{data: map[string]string{"peer_id": "bob"}}
	c := attach(m, actions)

	m.HandleClientMessage(c, []byte(`{"type":"set_draft","request_id":"r2","peer_id":"bob","content":"hello"}`))

	require.Len(t, actions.got, 1)
	assert.Equal(t, "bob", actions.got[0].PeerID)
	assert.Equal(t, "hello", actions.got[0].Content)

	f := nextFrame(t, c)
	assert.Equal(t, MessageTypeAck, f.Type)
	assert.JSONEq(t, `{"peer_id":"bob"}`, string(f.Data))
}

func TestInvalidFramesAreRejected(t *testing.T) {
	m := NewManager()
	actions := &stubActions{}
	c := attach(m, actions)

	for _, raw := range []string{
		`not json`,
		`{"type":"dance","peer_id":"bob"}`,
		`{"type":"open_window"}`,
	} {
		m.HandleClientMessage(c, []byte(raw))
		f := nextFrame(t, c)
		assert.Equal(t, MessageTypeError, f.Type, raw)

		var data ErrorData
		require.NoError(t, json.Unmarshal(f.Data, &data))
		assert.Equal(t, errors.CodeBadRequest, data.Code, raw)
	}
	assert.Empty(t, actions.got)
}

func TestActionErrorCarriesCode(t *testing.T) {
	m := NewManager()
	c := attach(m, &stubActions{err: errors.TooManyRequests("Slow down", nil)})

	m.HandleClientMessage(c, []byte(`{"type":"send_message","request_id":"r3","peer_id":"bob"}`))

	f := nextFrame(t, c)
	assert.Equal(t, MessageTypeError, f.Type)
	assert.Equal(t, "r3", f.RequestID)
	var data ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, errors.CodeTooManyRequests, data.Code)
}

func TestSlowClientIsDisconnected(t *testing.T) {
	m := NewManager()
	c := attach(m, nil)

	for i := 0; i < sendBuffer; i++ {
		require.True(t, m.SendToClient(c.ID, WSMessage{Type: "windows"}))
	}
	assert.False(t, m.SendToClient(c.ID, WSMessage{Type: "windows"}))
	assert.Equal(t, 0, m.Count())
	assert.False(t, m.SendToClient(c.ID, WSMessage{Type: "windows"}))
}

func TestRegisterReplacesSocketOfSameTab(t *testing.T) {
	m := NewManager()
	old := NewClient("alice|s1|tab-1", "alice", nil, nil)
	m.Register(old)

	current := NewClient("alice|s1|tab-1", "alice", nil, nil)
	m.Register(current)

	_, open := <-old.Send
	assert.False(t, open)
	assert.Equal(t, 1, m.Count())

	// the replaced socket closing later must not drop the new one
	m.remove(old)
	assert.True(t, m.Connected(current.ID))
}

func TestUnregisterIsVisibleImmediately(t *testing.T) {
	m := NewManager()

	for i := 0; i < 1000; i++ {
		c := NewClient("alice|s1|tab-1", "alice", nil, nil)
		m.Register(c)
		m.Unregister(c)
		require.False(t, m.Connected(c.ID), "disconnect %d", i)
	}
	assert.Equal(t, 0, m.Count())
}

func TestUnregisterKeepsReplacement(t *testing.T) {
	m := NewManager()
	old := NewClient("alice|s1|tab-1", "alice", nil, nil)
	m.Register(old)
	current := NewClient("alice|s1|tab-1", "alice", nil, nil)
	m.Register(current)

	m.Unregister(old)
	assert.True(t, m.Connected(current.ID))
}
