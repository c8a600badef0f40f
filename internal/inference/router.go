package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

// DefaultMaxSuggestions bounds the number of suggestions per request.
const DefaultMaxSuggestions = 5

// Request selects the path and context of a suggestion request.
type Request struct {
	Focus *domain.FocusRegion
	// UseCloud selects the cloud ("fast forward") path.
	UseCloud bool
	// Screen overrides screen capture when set.
	Screen *domain.ScreenState
}

// RouterConfig configures a Router.
type RouterConfig struct {
	MaxSuggestions int
	Logger         *slog.Logger
}

// Router issues suggestion requests. A new request cancels the one in
// flight and waits for it to release the local engine before starting.
type Router struct {
	State *state.Cell[domain.SuggestionState]

	engine  *Engine
	cloud   CloudProvider
	screens ScreenSource
	ui      *state.Cell[domain.UIState]
	max     int
	logger  *slog.Logger

	mu      sync.Mutex
	gen     uint64
	current *Stream
}

// NewRouter creates a router. cloud may be nil.
func NewRouter(engine *Engine, cloud CloudProvider, screens ScreenSource, ui *state.Cell[domain.UIState], cfg RouterConfig) *Router {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		State:   state.NewCell(domain.SuggestionState{}),
		engine:  engine,
		cloud:   cloud,
		screens: screens,
		ui:      ui,
		max:     cfg.MaxSuggestions,
		logger:  cfg.Logger,
	}
}

// GenerateSuggestions cancels the request in flight and starts a new one.
// The request runs until it completes, fails, is replaced, or ctx ends.
func (r *Router) GenerateSuggestions(ctx context.Context, req Request) *Stream {
	taskCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)

	r.mu.Lock()
	prev := r.current
	r.gen++
	gen := r.gen
	r.current = s
	if prev != nil {
		prev.Cancel()
	}
	r.State.Update(func(st domain.SuggestionState) domain.SuggestionState {
		return domain.SuggestionState{
			IsVisible:              true,
			IsLoading:              true,
			FocusRegion:            req.Focus,
			IsCloudInferenceActive: req.UseCloud,
			LastScreenContext:      st.LastScreenContext,
			LastScreenState:        st.LastScreenState,
		}
	})
	r.mu.Unlock()

	go r.run(taskCtx, gen, s, prev, req)
	return s
}

// Refocus restarts suggestions for region, keeping the local or cloud mode
// of the latest request.
func (r *Router) Refocus(ctx context.Context, region *domain.FocusRegion) *Stream {
	return r.GenerateSuggestions(ctx, Request{
		Focus:    region,
		UseCloud: r.State.Get().IsCloudInferenceActive,
	})
}

// Dismiss cancels the request in flight and hides the suggestions.
func (r *Router) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	if r.current != nil {
		r.current.Cancel()
		r.current = nil
	}
	r.State.Update(func(st domain.SuggestionState) domain.SuggestionState {
		return domain.SuggestionState{
			LastScreenContext: st.LastScreenContext,
			LastScreenState:   st.LastScreenState,
			CanUseFastForward: st.CanUseFastForward,
		}
	})
}

// Close cancels the request in flight and waits for it to exit.
func (r *Router) Close() {
	r.mu.Lock()
	cur := r.current
	r.gen++
	r.current = nil
	r.mu.Unlock()
	if cur != nil {
		cur.Cancel()
		<-cur.Done()
	}
}

// GenerateTextOptions returns up to maxOptions rewrites of text from the
// local model.
func (r *Router) GenerateTextOptions(ctx context.Context, text string, maxOptions int) ([]string, error) {
	if !r.modelReady() {
		return nil, ErrModelNotReady
	}
	var opts []string
	for ev := range r.engine.StreamTextOptions(ctx, text, maxOptions) {
		switch e := ev.(type) {
		case Complete:
			for _, s := range e.Suggestions {
				opts = append(opts, s.Title)
			}
			return opts, nil
		case Error:
			return nil, fmt.Errorf("text options: %s", e.Message)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrStreamEnded
}

func (r *Router) run(ctx context.Context, gen uint64, s *Stream, prev *Stream, req Request) {
	defer s.finish()
	defer s.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("[ROUTER] suggestion task panicked", "panic", rec)
			r.fail(gen, s, fmt.Errorf("internal error: %v", rec))
		}
	}()
	// A caller-cancelled request that was not replaced still owns the state.
	defer func() {
		if ctx.Err() == nil {
			return
		}
		r.publish(gen, func(st domain.SuggestionState) domain.SuggestionState {
			st.IsLoading = false
			st.IsStreaming = false
			st.StreamingText = ""
			return st
		})
	}()

	if prev != nil {
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return
		}
	}

	started := time.Now()
	var events iter.Seq[Event]
	if req.UseCloud {
		if r.cloud == nil || !r.cloud.IsAvailable(ctx) {
			r.fail(gen, s, ErrCloudUnavailable)
			return
		}
		screen := req.Screen
		if screen == nil {
			screen = r.State.Get().LastScreenState
		}
		if screen == nil {
			screen = r.capture(ctx)
		}
		r.rememberScreen(gen, screen, req.Focus)
		events = r.cloud.GenerateSuggestionsStreaming(ctx, screen, r.max, req.Focus)
	} else {
		if !r.modelReady() {
			r.fail(gen, s, ErrModelNotReady)
			return
		}
		screen := req.Screen
		if screen == nil {
			screen = r.capture(ctx)
		}
		r.rememberScreen(gen, screen, req.Focus)
		events = r.engine.StreamSuggestions(ctx, screen, r.max, req.Focus)
	}

	var (
		text   strings.Builder
		result []domain.Suggestion
		done   bool
	)
loop:
	for ev := range events {
		if ctx.Err() != nil {
			return
		}
		switch e := ev.(type) {
		case Token:
			text.WriteString(e.Text)
			streamed := text.String()
			if !r.publish(gen, func(st domain.SuggestionState) domain.SuggestionState {
				st.IsStreaming = true
				st.StreamingText = streamed
				return st
			}) || !s.emit(e) {
				return
			}
		case Complete:
			result = append([]domain.Suggestion(nil), e.Suggestions...)
			done = true
			break loop
		case Error:
			r.fail(gen, s, errors.New(e.Message))
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if !done {
		r.fail(gen, s, ErrStreamEnded)
		return
	}

	domain.SortSuggestions(result)
	fastForward := !req.UseCloud && r.cloud != nil && r.cloud.IsAvailable(ctx)
	if !r.publish(gen, func(st domain.SuggestionState) domain.SuggestionState {
		st.IsLoading = false
		st.IsStreaming = false
		st.StreamingText = ""
		st.Suggestions = result
		st.Error = ""
		st.CanUseFastForward = fastForward
		return st
	}) {
		return
	}
	r.recordLatency(started)
	r.logger.Info("[ROUTER] suggestions ready", "count", len(result), "cloud", req.UseCloud, "elapsed", time.Since(started))
	s.emit(Complete{Suggestions: result})
}

// publish applies fn to the suggestion state if gen is still current.
func (r *Router) publish(gen uint64, fn func(domain.SuggestionState) domain.SuggestionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.State.Update(fn)
	return true
}

func (r *Router) fail(gen uint64, s *Stream, err error) {
	r.logger.Warn("[ROUTER] suggestion request failed", "error", err)
	if r.publish(gen, func(st domain.SuggestionState) domain.SuggestionState {
		st.IsLoading = false
		st.IsStreaming = false
		st.StreamingText = ""
		st.Suggestions = nil
		st.Error = err.Error()
		return st
	}) {
		s.emit(ErrorEvent(err))
	}
}

func (r *Router) rememberScreen(gen uint64, screen *domain.ScreenState, region *domain.FocusRegion) {
	if screen == nil {
		return
	}
	summary := screen.Summary(region)
	r.publish(gen, func(st domain.SuggestionState) domain.SuggestionState {
		st.LastScreenState = screen
		st.LastScreenContext = summary
		return st
	})
}

func (r *Router) capture(ctx context.Context) *domain.ScreenState {
	if r.screens == nil {
		return nil
	}
	screen, err := r.screens.CaptureScreen(ctx)
	if err != nil {
		r.logger.Warn("[ROUTER] screen capture failed", "error", err)
		return nil
	}
	return screen
}

func (r *Router) modelReady() bool {
	return r.ui != nil && r.ui.Get().IsModelReady
}

func (r *Router) recordLatency(started time.Time) {
	if r.ui == nil {
		return
	}
	ms := time.Since(started).Milliseconds()
	r.ui.Update(func(u domain.UIState) domain.UIState {
		u.LastInferenceMs = ms
		return u
	})
}
