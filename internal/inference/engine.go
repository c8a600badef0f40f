package inference

import (
	"context"
	"fmt"
	"iter"

	"github.com/ashureev/screenpilot/internal/domain"
)

// Engine serializes every call into a LocalProvider. The lock is held for the
// whole call, including the full length of a stream.
type Engine struct {
	provider LocalProvider
	sem      chan struct{}
}

// NewEngine wraps provider.
func NewEngine(provider LocalProvider) *Engine {
	return &Engine{
		provider: provider,
		sem:      make(chan struct{}, 1),
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for local engine: %w", ctx.Err())
	}
}

func (e *Engine) release() { <-e.sem }

// LoadModel loads slug.
func (e *Engine) LoadModel(ctx context.Context, slug string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.provider.LoadModel(ctx, slug)
}

// UnloadModel releases the loaded model.
func (e *Engine) UnloadModel(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return e.provider.UnloadModel(ctx)
}

// GenerateResponse answers a conversational turn.
func (e *Engine) GenerateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.provider.GenerateResponse(ctx, req)
}

// StreamSuggestions streams suggestions for screen.
func (e *Engine) StreamSuggestions(ctx context.Context, screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) iter.Seq[Event] {
	return e.locked(ctx, func() iter.Seq[Event] {
		return e.provider.GenerateSuggestionsStreaming(ctx, screen, maxSuggestions, region)
	})
}

// StreamTextOptions streams rewrite options for text.
func (e *Engine) StreamTextOptions(ctx context.Context, text string, maxOptions int) iter.Seq[Event] {
	return e.locked(ctx, func() iter.Seq[Event] {
		return e.provider.GenerateTextOptions(ctx, text, maxOptions)
	})
}

func (e *Engine) locked(ctx context.Context, open func() iter.Seq[Event]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if err := e.acquire(ctx); err != nil {
			yield(ErrorEvent(err))
			return
		}
		defer e.release()
		for ev := range open() {
			if !yield(ev) {
				return
			}
		}
	}
}
