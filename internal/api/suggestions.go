package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
)

const sseKeepalive = 15 * time.Second

// SuggestionRequest is the optional body of POST /api/suggestions.
type SuggestionRequest struct {
	UseCloud bool `json:"use_cloud"`
}

// TextOptionsRequest is the body of POST /api/text-options.
type TextOptionsRequest struct {
	Text       string `json:"text"`
	MaxOptions int    `json:"max_options"`
}

// GetSuggestions handles GET /api/suggestions.
func (h *Handler) GetSuggestions(w http.ResponseWriter, _ *http.Request) {
	st := get(h.cells.Suggestions)
	if st.Suggestions == nil {
		st.Suggestions = []domain.Suggestion{}
	}
	JSON(w, http.StatusOK, st)
}

// StartSuggestions handles POST /api/suggestions. The request outlives the
// HTTP call; progress is observed through the suggestion state.
func (h *Handler) StartSuggestions(w http.ResponseWriter, r *http.Request) {
	var req SuggestionRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	h.suggestions.GenerateSuggestions(ctx, h.suggestionRequest(req.UseCloud)).Discard()
	w.WriteHeader(http.StatusAccepted)
}

// DismissSuggestions handles DELETE /api/suggestions.
func (h *Handler) DismissSuggestions(w http.ResponseWriter, _ *http.Request) {
	h.suggestions.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// StreamSuggestions handles GET /api/suggestions/stream?cloud=true. It starts
// a request and relays its events as SSE until the request ends. When the
// client leaves the request keeps running and its events are discarded.
func (h *Handler) StreamSuggestions(w http.ResponseWriter, r *http.Request) {
	useCloud, _ := strconv.ParseBool(r.URL.Query().Get("cloud"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := h.suggestions.GenerateSuggestions(context.WithoutCancel(r.Context()), h.suggestionRequest(useCloud))

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			stream.Discard()
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				stream.Discard()
				return
			}
			flusher.Flush()
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			name, payload := sseEvent(ev)
			data, err := json.Marshal(payload)
			if err != nil {
				h.logger.Warn("failed to marshal suggestion event", "error", err)
				continue
			}
			if err := writeSSE(w, name, string(data)); err != nil {
				h.logger.Debug("suggestion stream client gone", "error", err)
				stream.Discard()
				return
			}
			flusher.Flush()
		}
	}
}

// TextOptions handles POST /api/text-options.
func (h *Handler) TextOptions(w http.ResponseWriter, r *http.Request) {
	var req TextOptionsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.MaxOptions <= 0 {
		req.MaxOptions = 3
	}

	opts, err := h.suggestions.GenerateTextOptions(r.Context(), req.Text, req.MaxOptions)
	if errors.Is(err, inference.ErrModelNotReady) {
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if opts == nil {
		opts = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{"options": opts})
}

func (h *Handler) suggestionRequest(useCloud bool) inference.Request {
	return inference.Request{
		Focus:    get(h.cells.FocusRegion),
		UseCloud: useCloud,
	}
}

func sseEvent(ev inference.Event) (string, any) {
	switch e := ev.(type) {
	case inference.Token:
		return "token", map[string]string{"text": e.Text}
	case inference.Complete:
		s := e.Suggestions
		if s == nil {
			s = []domain.Suggestion{}
		}
		return "complete", map[string]any{"suggestions": s}
	case inference.Error:
		return "error", map[string]string{"message": e.Message}
	default:
		return "unknown", map[string]string{"type": fmt.Sprintf("%T", ev)}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
