package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
)

// ErrUnknownModel is returned by LoadModel when the slug cannot be resolved.
var ErrUnknownModel = errors.New("unknown model")

// LocalConfig configures a Local provider.
type LocalConfig struct {
	// BaseURL of the local OpenAI-compatible runtime, e.g.
	// http://localhost:12434/engines/v1/.
	BaseURL string
	// Resolve maps a catalog slug to the served model name.
	Resolve     func(slug string) (string, bool)
	MaxTokens   int64
	Temperature float64
	Logger      *slog.Logger
	Options     []option.RequestOption
}

// Local is the on-device provider backed by a local model runner.
type Local struct {
	client  openai.Client
	resolve func(string) (string, bool)
	maxTok  int64
	temp    float64
	logger  *slog.Logger

	mu    sync.RWMutex
	model string
}

// NewLocal creates a provider with no model loaded.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolve == nil {
		cfg.Resolve = func(slug string) (string, bool) { return slug, slug != "" }
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Local{
		client:  newClient(cfg.BaseURL, "", cfg.Options...),
		resolve: cfg.Resolve,
		maxTok:  cfg.MaxTokens,
		temp:    cfg.Temperature,
		logger:  cfg.Logger,
	}
}

// LoadModel checks that the runtime serves slug and makes it current.
func (l *Local) LoadModel(ctx context.Context, slug string) error {
	name, ok := l.resolve(slug)
	if !ok {
		return fmt.Errorf("%s: %w", slug, ErrUnknownModel)
	}
	if _, err := l.client.Models.Get(ctx, name); err != nil {
		return fmt.Errorf("load model %s: %w", name, err)
	}

	l.mu.Lock()
	l.model = name
	l.mu.Unlock()
	l.logger.Info("local model loaded", "slug", slug, "model", name)
	return nil
}

// UnloadModel forgets the current model.
func (l *Local) UnloadModel(context.Context) error {
	l.mu.Lock()
	l.model = ""
	l.mu.Unlock()
	return nil
}

func (l *Local) current() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.model == "" {
		return "", inference.ErrModelNotReady
	}
	return l.model, nil
}

func (l *Local) params(model string, msgs []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  msgs,
		MaxTokens: openai.Int(l.maxTok),
	}
	if l.temp > 0 {
		p.Temperature = openai.Float(l.temp)
	}
	return p
}

// GenerateResponse answers a conversational turn.
func (l *Local) GenerateResponse(ctx context.Context, req inference.ResponseRequest) (*inference.Response, error) {
	model, err := l.current()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	completion, err := l.client.Chat.Completions.New(ctx, l.params(model, responseMessages(req)))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("chat completion: no choices returned")
	}

	raw := completion.Choices[0].Message.Content
	plan, memories := parseReply(raw)
	return &inference.Response{
		Text:            replyText(raw, plan),
		Actions:         plan,
		MemoryUpdates:   memories,
		TokensUsed:      int(completion.Usage.TotalTokens),
		InferenceTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// replyText is the fallback text when the plan has no respond action.
func replyText(raw string, plan domain.ActionPlan) string {
	if msg, ok := plan.FirstResponse(); ok {
		return msg
	}
	var steps []string
	for _, a := range plan {
		steps = append(steps, a.Describe())
	}
	if len(steps) == 0 {
		return strings.TrimSpace(raw)
	}
	return strings.Join(steps, "\n")
}

// GenerateSuggestionsStreaming streams suggestions for screen.
func (l *Local) GenerateSuggestionsStreaming(ctx context.Context, screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) iter.Seq[inference.Event] {
	model, err := l.current()
	if err != nil {
		return single(inference.ErrorEvent(err))
	}
	return streamSuggestions(ctx, &l.client, l.params(model, suggestionMessages(screen, maxSuggestions, region)), maxSuggestions)
}

// GenerateTextOptions streams rewrites of text as suggestions.
func (l *Local) GenerateTextOptions(ctx context.Context, text string, maxOptions int) iter.Seq[inference.Event] {
	model, err := l.current()
	if err != nil {
		return single(inference.ErrorEvent(err))
	}
	return streamSuggestions(ctx, &l.client, l.params(model, textOptionMessages(text, maxOptions)), maxOptions)
}

func single(ev inference.Event) iter.Seq[inference.Event] {
	return func(yield func(inference.Event) bool) { yield(ev) }
}

var _ inference.LocalProvider = (*Local)(nil)
