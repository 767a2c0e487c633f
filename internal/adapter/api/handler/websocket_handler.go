package handler

import (
	"context"
	"log"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"rentalchat/internal/adapter/api/middleware"
	ws "rentalchat/internal/infrastructure/websocket"
	"rentalchat/internal/usecase"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/response"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	authMiddleware *middleware.AuthMiddleware
	registry       *usecase.SessionRegistry
	upgrader       gorillaws.Upgrader
}

func NewWebSocketHandler(wsManager *ws.Manager, authMiddleware *middleware.AuthMiddleware, registry *usecase.SessionRegistry, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:      wsManager,
		authMiddleware: authMiddleware,
		registry:       registry,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket attaches the tab named by the query parameters and
// streams its chat events. The token travels as a query parameter since
// the handshake cannot carry an Authorization header from a browser.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}
	userID, err := h.authMiddleware.GetUIDFromToken(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
	}

	tab := usecase.Tab{
		UserID:    userID,
		SessionID: c.QueryParam("session"),
		TabID:     c.QueryParam("tab"),
	}
	session, err := h.registry.Attach(context.Background(), tab)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WebSocket: upgrade for tab %s failed: %v", tab.TabID, err)
		return nil
	}

	client := ws.NewClient(userID+"|"+tab.SessionID+"|"+tab.TabID, userID, conn, &sessionActions{session: session})
	h.wsManager.Register(client)

	unsubscribe := session.Listen(func(ev usecase.SessionEvent) {
		h.wsManager.SendToClient(client.ID, ws.WSMessage{Type: ev.Type, Data: ev.Data})
	})

	h.wsManager.SendToClient(client.ID, ws.WSMessage{Type: usecase.EventConversations, Data: session.ConversationList()})
	h.wsManager.SendToClient(client.ID, ws.WSMessage{Type: usecase.EventWindows, Data: session.Windows.Windows()})
	for _, v := range session.Windows.Windows() {
		if w, ok := session.Windows.Window(v.PeerID); ok {
			h.wsManager.SendToClient(client.ID, ws.WSMessage{Type: usecase.EventThread, Data: w.View()})
		}
	}

	go client.ReadPump(h.wsManager, func() {
		unsubscribe()
		// a reconnect of the same tab keeps the session
		if !h.wsManager.Connected(client.ID) {
			h.registry.Detach(tab)
		}
	})
	go client.WritePump()

	return nil
}

// sessionActions runs socket frames against a tab's chat session.
type sessionActions struct {
	session *usecase.ChatSession
}

func (a *sessionActions) HandleAction(ctx context.Context, msg ws.ClientMessage) (interface{}, error) {
	s := a.session

	switch msg.Type {
	case ws.MessageTypeOpenConversation:
		return nil, s.Conversations.Open(ctx, msg.PeerID)

	case ws.MessageTypeOpenWindow:
		return nil, s.Windows.OpenWindow(ctx, msg.PeerID)

	case ws.MessageTypeToggleMinimize:
		return s.Windows.ToggleMinimize(ctx, msg.PeerID)

	case ws.MessageTypeCloseWindow:
		return nil, s.Windows.CloseWindow(ctx, msg.PeerID)

	case ws.MessageTypeSetDraft:
		w, err := s.Window(msg.PeerID)
		if err != nil {
			return nil, err
		}
		w.SetDraft(msg.Content)
		return nil, nil

	case ws.MessageTypeSendMessage:
		w, err := s.Window(msg.PeerID)
		if err != nil {
			return nil, err
		}
		if msg.Content != "" {
			w.SetDraft(msg.Content)
		}
		return w.Send(ctx)
	}

	return nil, errors.BadRequest("Unsupported message type", nil)
}
