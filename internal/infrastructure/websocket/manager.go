package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is the socket of one browser tab.
type Client struct {
	ID      string // one per tab
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Actions ActionHandler
}

func NewClient(id, userID string, conn *websocket.Conn, actions ActionHandler) *Client {
	return &Client{
		ID:      id,
		UserID:  userID,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Actions: actions,
	}
}

// Manager tracks the connected tabs and pushes chat events to them.
type Manager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients: make(map[string]*Client),
	}
}

// Register adds client, replacing an older socket of the same tab. It is
// synchronous so frames can be queued right after it returns.
func (m *Manager) Register(client *Client) {
	m.mutex.Lock()
	if old, ok := m.clients[client.ID]; ok && old != client {
		close(old.Send)
	}
	m.clients[client.ID] = client
	m.mutex.Unlock()
	log.Printf("Client registered: %s (user %s)", client.ID, client.UserID)
}

// Unregister removes client unless a newer socket of the same tab replaced
// it. Once it returns, Connected reflects the removal.
func (m *Manager) Unregister(client *Client) {
	if m.remove(client) {
		log.Printf("Client unregistered: %s (user %s)", client.ID, client.UserID)
	}
}

func (m *Manager) remove(client *Client) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if current, ok := m.clients[client.ID]; ok && current == client {
		delete(m.clients, client.ID)
		close(client.Send)
		return true
	}
	return false
}

// Count returns the number of connected tabs.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Connected reports whether a socket is registered for clientID.
func (m *Manager) Connected(clientID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.clients[clientID]
	return ok
}

// SendToClient queues message for the tab. A tab that cannot keep up is
// dropped; it reconnects and receives a fresh snapshot.
func (m *Manager) SendToClient(clientID string, message WSMessage) bool {
	if message.Timestamp == "" {
		message.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("WebSocket: Failed to marshal %s for client %s: %v", message.Type, clientID, err)
		return false
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	client, ok := m.clients[clientID]
	if !ok {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		log.Printf("WebSocket: Client %s is not reading, disconnecting", clientID)
		delete(m.clients, clientID)
		close(client.Send)
		return false
	}
}

// ReadPump reads client frames until the socket closes, then runs
// onClose.
func (c *Client) ReadPump(m *Manager, onClose func()) {
	defer func() {
		m.Unregister(c)
		c.Conn.Close()
		if onClose != nil {
			onClose()
		}
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("error: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
