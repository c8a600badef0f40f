package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/screenpilot/internal/conversation"
	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/identity"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// SendChat handles POST /api/chat and returns the assistant reply. The turn
// runs to completion even if the client disconnects.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(identity.IPFromRequest(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}

	reply, err := h.chat.Send(context.WithoutCancel(r.Context()), req.Message)
	if errors.Is(err, conversation.ErrEmptyMessage) {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		h.logger.Error("chat turn failed", "error", err)
		Error(w, http.StatusInternalServerError, "chat failed")
		return
	}
	JSON(w, http.StatusOK, reply)
}

// GetMessages handles GET /api/chat/messages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs := get(h.cells.Conversation)
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": identity.SessionIDFromContext(r.Context()),
		"messages":   msgs,
	})
}

// GetUI handles GET /api/ui.
func (h *Handler) GetUI(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, get(h.cells.UI))
}
