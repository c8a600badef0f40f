// Package inference routes suggestion requests to the local model or the
// cloud fallback and serializes access to the local engine.
package inference

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/screenpilot/internal/domain"
)

// Sentinel errors.
var (
	ErrModelNotReady    = errors.New("model not ready")
	ErrCloudUnavailable = errors.New("cloud inference unavailable")
	ErrStreamEnded      = errors.New("inference stream ended without result")
)

// Event is one element of a suggestion stream. Implementations are Token,
// Complete and Error.
type Event interface {
	inferenceEvent()
}

// Token carries newly generated text.
type Token struct {
	Text string
}

// Complete ends a successful stream.
type Complete struct {
	Suggestions []domain.Suggestion
}

// Error ends a failed stream.
type Error struct {
	Message string
}

func (Token) inferenceEvent()    {}
func (Complete) inferenceEvent() {}
func (Error) inferenceEvent()    {}

// ErrorEvent converts err into an Error event.
func ErrorEvent(err error) Error {
	return Error{Message: err.Error()}
}

// ResponseRequest is the input of a conversational turn.
type ResponseRequest struct {
	Message  string
	Screen   *domain.ScreenState
	History  []domain.ChatMessage
	Memories []domain.MemoryItem
}

// Response is the model's answer to a conversational turn.
type Response struct {
	Text            string
	Actions         domain.ActionPlan
	MemoryUpdates   []domain.MemoryItem
	TokensUsed      int
	InferenceTimeMs int64
}

// LocalProvider runs the on-device model. Implementations are not safe for
// concurrent use; callers go through Engine.
type LocalProvider interface {
	LoadModel(ctx context.Context, slug string) error
	UnloadModel(ctx context.Context) error
	GenerateResponse(ctx context.Context, req ResponseRequest) (*Response, error)
	GenerateSuggestionsStreaming(ctx context.Context, screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) iter.Seq[Event]
	GenerateTextOptions(ctx context.Context, text string, maxOptions int) iter.Seq[Event]
}

// CloudProvider runs suggestions on a hosted model.
type CloudProvider interface {
	IsAvailable(ctx context.Context) bool
	GenerateSuggestionsStreaming(ctx context.Context, screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) iter.Seq[Event]
}

// ScreenSource captures the current screen.
type ScreenSource interface {
	CaptureScreen(ctx context.Context) (*domain.ScreenState, error)
}
