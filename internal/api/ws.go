package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

const stateWriteTimeout = 5 * time.Second

// Snapshot is pushed over /ws/state whenever any observable value changes.
type Snapshot struct {
	UI             domain.UIState                       `json:"ui"`
	Conversation   []domain.ChatMessage                 `json:"conversation"`
	Suggestions    domain.SuggestionState               `json:"suggestions"`
	Downloads      map[string]domain.ModelDownloadState `json:"downloads"`
	Download       domain.ModelDownloadState            `json:"download"`
	Models         []domain.ModelInfo                   `json:"models"`
	FocusSelection domain.FocusSelection                `json:"focus_selection"`
	FocusRegion    *domain.FocusRegion                  `json:"focus_region,omitempty"`
}

func (h *Handler) snapshot() Snapshot {
	return Snapshot{
		UI:             get(h.cells.UI),
		Conversation:   get(h.cells.Conversation),
		Suggestions:    get(h.cells.Suggestions),
		Downloads:      get(h.cells.Downloads),
		Download:       get(h.cells.LegacyDownload),
		Models:         get(h.cells.Models),
		FocusSelection: get(h.cells.FocusSelection),
		FocusRegion:    get(h.cells.FocusRegion),
	}
}

// StateWebSocket handles GET /ws/state. Updates are coalesced: a slow client
// only ever receives the latest snapshot.
func (h *Handler) StateWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.Warn("failed to accept state websocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "state stream ended")
	}()

	ctx := ws.CloseRead(r.Context())

	changed := make(chan struct{}, 1)
	stops := []func(){
		forward(h.cells.UI, changed),
		forward(h.cells.Conversation, changed),
		forward(h.cells.Suggestions, changed),
		forward(h.cells.Downloads, changed),
		forward(h.cells.LegacyDownload, changed),
		forward(h.cells.Models, changed),
		forward(h.cells.FocusSelection, changed),
		forward(h.cells.FocusRegion, changed),
	}
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	if err := h.pushSnapshot(ctx, ws); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			if err := h.pushSnapshot(ctx, ws); err != nil {
				h.logger.Debug("state websocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) pushSnapshot(ctx context.Context, ws *websocket.Conn) error {
	data, err := json.Marshal(h.snapshot())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, stateWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	if h.isDev {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	var patterns []string
	for _, origin := range h.origins {
		if origin == "*" {
			patterns = append(patterns, "*")
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// forward signals changed on every update of c until the returned func is
// called. The initial value is skipped.
func forward[T any](c *state.Cell[T], changed chan<- struct{}) func() {
	if c == nil {
		return func() {}
	}
	ch, unsubscribe := c.Subscribe()
	<-ch
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}
