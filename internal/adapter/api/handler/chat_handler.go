package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/usecase"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/response"
	"rentalchat/pkg/utils"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderTabID     = "X-Tab-ID"
)

type ChatHandler struct {
	registry *usecase.SessionRegistry
}

func NewChatHandler(registry *usecase.SessionRegistry) *ChatHandler {
	return &ChatHandler{
		registry: registry,
	}
}

type draftRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

type windowResponse struct {
	entity.WindowView
	Badge int `json:"badge"`
}

type conversationPage struct {
	usecase.ConversationList
	Pagination utils.PaginationParams `json:"pagination"`
	Total      int                    `json:"total"`
}

type threadResponse struct {
	usecase.ThreadView
	Total int `json:"total"`
}

// session resolves the chat session of the calling tab, starting it on
// first use.
func (h *ChatHandler) session(c echo.Context) (*usecase.ChatSession, error) {
	userID, _ := c.Get("uid").(string)
	tab := usecase.Tab{
		UserID:    userID,
		SessionID: c.Request().Header.Get(HeaderSessionID),
		TabID:     c.Request().Header.Get(HeaderTabID),
	}
	return h.registry.Attach(c.Request().Context(), tab)
}

// ListConversations returns one page of the conversation summaries, newest
// first. The unread total always covers every conversation.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	pagination := utils.GetPaginationParams(c)
	list := session.ConversationList()
	total := len(list.Conversations)
	start, end := pagination.Bounds(total)
	list.Conversations = list.Conversations[start:end]

	return response.Success(c, conversationPage{
		ConversationList: list,
		Pagination:       pagination,
		Total:            total,
	})
}

// OpenConversation marks the conversation read and opens its window.
func (h *ChatHandler) OpenConversation(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	peerID := c.Param("peerId")
	if err := session.Conversations.Open(c.Request().Context(), peerID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, h.windows(session))
}

func (h *ChatHandler) ListWindows(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, h.windows(session))
}

func (h *ChatHandler) ToggleMinimize(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	view, err := session.Windows.ToggleMinimize(c.Request().Context(), c.Param("peerId"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, view)
}

func (h *ChatHandler) CloseWindow(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := session.Windows.CloseWindow(c.Request().Context(), c.Param("peerId")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "Chat window closed",
	})
}

// GetThread returns the window's messages, oldest first. An optional limit
// keeps only the newest ones.
func (h *ChatHandler) GetThread(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	window, err := session.Window(c.Param("peerId"))
	if err != nil {
		return response.Error(c, err)
	}

	view := window.View()
	total := len(view.Messages)
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return response.Error(c, errors.BadRequest("Invalid limit", err))
		}
		if limit < total {
			view.Messages = view.Messages[total-limit:]
		}
	}

	return response.Success(c, threadResponse{ThreadView: view, Total: total})
}

func (h *ChatHandler) SetDraft(c echo.Context) error {
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	window, err := session.Window(c.Param("peerId"))
	if err != nil {
		return response.Error(c, err)
	}
	window.SetDraft(req.Content)

	return response.Success(c, map[string]string{
		"draft": window.Draft(),
	})
}

// SendMessage sends the window's draft.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return response.Error(c, err)
	}

	window, err := session.Window(c.Param("peerId"))
	if err != nil {
		return response.Error(c, err)
	}

	message, err := window.Send(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

func (h *ChatHandler) windows(session *usecase.ChatSession) []windowResponse {
	views := session.Windows.Windows()
	out := make([]windowResponse, 0, len(views))
	for _, v := range views {
		badge := 0
		if w, ok := session.Windows.Window(v.PeerID); ok {
			badge = w.Badge()
		}
		out = append(out, windowResponse{WindowView: v, Badge: badge})
	}
	return out
}
