package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"rentalchat/pkg/errors"
)

// Frame types sent by a tab.
const (
	MessageTypePing             = "ping"
	MessageTypeOpenConversation = "open_conversation"
	MessageTypeOpenWindow       = "open_window"
	MessageTypeToggleMinimize   = "toggle_minimize"
	MessageTypeCloseWindow      = "close_window"
	MessageTypeSetDraft         = "set_draft"
	MessageTypeSendMessage      = "send_message"
)

// Frame types sent to a tab, besides the chat events themselves.
const (
	MessageTypePong  = "pong"
	MessageTypeAck   = "ack"
	MessageTypeError = "error"
)

const actionTimeout = 15 * time.Second

// WSMessage is a server to tab frame.
type WSMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ClientMessage is a tab to server frame.
type ClientMessage struct {
	Type      string `json:"type" validate:"required,oneof=ping open_conversation open_window toggle_minimize close_window set_draft send_message"`
	RequestID string `json:"request_id,omitempty" validate:"max=64"`
	PeerID    string `json:"peer_id,omitempty" validate:"required_unless=Type ping"`
	Content   string `json:"content,omitempty" validate:"max=4000"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionHandler executes a tab's chat action and returns the data to
// acknowledge it with.
type ActionHandler interface {
	HandleAction(ctx context.Context, msg ClientMessage) (interface{}, error)
}

var validate = validator.New()

// HandleClientMessage decodes one frame, runs it and answers with an ack
// or an error frame carrying the same request id.
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("WebSocket: Failed to unmarshal message from client %s: %v", client.ID, err)
		m.sendError(client, "", errors.BadRequest("Invalid message format", err))
		return
	}
	if err := validate.Struct(&msg); err != nil {
		m.sendError(client, msg.RequestID, errors.BadRequest("Invalid "+msg.Type+" message", err))
		return
	}

	if msg.Type == MessageTypePing {
		m.SendToClient(client.ID, WSMessage{Type: MessageTypePong, RequestID: msg.RequestID})
		return
	}

	if client.Actions == nil {
		m.sendError(client, msg.RequestID, errors.Internal("Chat is not available", nil))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	data, err := client.Actions.HandleAction(ctx, msg)
	if err != nil {
		log.Printf("WebSocket: %s from client %s failed: %v", msg.Type, client.ID, err)
		m.sendError(client, msg.RequestID, err)
		return
	}

	m.SendToClient(client.ID, WSMessage{Type: MessageTypeAck, RequestID: msg.RequestID, Data: data})
}

func (m *Manager) sendError(client *Client, requestID string, err error) {
	data := ErrorData{Code: errors.CodeInternal, Message: "Internal server error"}
	if appErr, ok := err.(*errors.AppError); ok {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	m.SendToClient(client.ID, WSMessage{Type: MessageTypeError, RequestID: requestID, Data: data})
}
