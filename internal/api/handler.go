// Package api provides the HTTP and WebSocket surface of the ScreenPilot daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/screenpilot/internal/cloud"
	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/focus"
	"github.com/ashureev/screenpilot/internal/inference"
	"github.com/ashureev/screenpilot/internal/state"
)

const maxRequestBodySize = 1 << 20

// ChatService handles chat turns.
type ChatService interface {
	Send(ctx context.Context, text string) (domain.ChatMessage, error)
}

// DownloadService manages the model catalog and downloads.
type DownloadService interface {
	StartDownload(slug string, autoLoad bool) bool
	CancelDownload(slug string) bool
	ClearState(slug string)
	RefreshCatalog(ctx context.Context) ([]domain.ModelInfo, error)
	LoadModel(ctx context.Context, slug string) error
}

// SuggestionService issues suggestion and text option requests.
type SuggestionService interface {
	GenerateSuggestions(ctx context.Context, req inference.Request) *inference.Stream
	Dismiss()
	GenerateTextOptions(ctx context.Context, text string, maxOptions int) ([]string, error)
}

// FocusService drives the focus selection state machine.
type FocusService interface {
	Start(x, y float64)
	Update(x, y float64)
	End() (focus.Outcome, error)
	Clear()
	Cancel()
}

// CloudModelService reads and persists the cloud model tier.
type CloudModelService interface {
	Current() cloud.Model
	Set(ctx context.Context, m cloud.Model) error
}

// Cells are the observable values exposed read-only to the presentation
// layer. Nil cells are reported as zero values.
type Cells struct {
	UI             *state.Cell[domain.UIState]
	Conversation   *state.Cell[[]domain.ChatMessage]
	Suggestions    *state.Cell[domain.SuggestionState]
	Downloads      *state.Cell[map[string]domain.ModelDownloadState]
	LegacyDownload *state.Cell[domain.ModelDownloadState]
	Models         *state.Cell[[]domain.ModelInfo]
	FocusSelection *state.Cell[domain.FocusSelection]
	FocusRegion    *state.Cell[*domain.FocusRegion]
}

// Deps are the collaborators of a Handler. Device is optional.
type Deps struct {
	Chat        ChatService
	Downloads   DownloadService
	Suggestions SuggestionService
	Focus       FocusService
	Cloud       CloudModelService
	Cells       Cells
	Device      http.Handler
	RateLimiter *RateLimiter
	// AllowedOrigins restricts the state WebSocket outside development.
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
}

// Handler serves the presentation layer API.
type Handler struct {
	chat        ChatService
	downloads   DownloadService
	suggestions SuggestionService
	focus       FocusService
	cloud       CloudModelService
	cells       Cells
	device      http.Handler
	limiter     *RateLimiter
	origins     []string
	isDev       bool
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		chat:        deps.Chat,
		downloads:   deps.Downloads,
		suggestions: deps.Suggestions,
		focus:       deps.Focus,
		cloud:       deps.Cloud,
		cells:       deps.Cells,
		device:      deps.Device,
		limiter:     deps.RateLimiter,
		origins:     deps.AllowedOrigins,
		isDev:       deps.IsDev,
		logger:      deps.Logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body of at most maxRequestBodySize bytes into v. An
// empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	Error(w, http.StatusBadRequest, "invalid request body")
	return false
}

func get[T any](c *state.Cell[T]) T {
	if c == nil {
		var zero T
		return zero
	}
	return c.Get()
}
