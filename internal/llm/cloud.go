package llm

import (
	"context"
	"iter"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
)

// CloudConfig configures a Cloud provider.
type CloudConfig struct {
	BaseURL string
	APIKey  string
	// Model returns the provider model identifier for the next request.
	Model func() string
	// Probe reports whether the endpoint is reachable. Nil means reachable.
	Probe     func(ctx context.Context) bool
	MaxTokens int64
	Logger    *slog.Logger
	Options   []option.RequestOption
}

// Cloud is the hosted suggestion provider.
type Cloud struct {
	client  openai.Client
	enabled bool
	model   func() string
	probe   func(context.Context) bool
	maxTok  int64
	logger  *slog.Logger
}

// NewCloud creates a provider. Without an API key it is never available.
func NewCloud(cfg CloudConfig) *Cloud {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == nil {
		cfg.Model = func() string { return "gpt-4.1-mini" }
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Cloud{
		client:  newClient(cfg.BaseURL, cfg.APIKey, cfg.Options...),
		enabled: cfg.APIKey != "",
		model:   cfg.Model,
		probe:   cfg.Probe,
		maxTok:  cfg.MaxTokens,
		logger:  cfg.Logger,
	}
}

// IsAvailable reports whether suggestions can be sent to the cloud.
func (c *Cloud) IsAvailable(ctx context.Context) bool {
	if !c.enabled {
		return false
	}
	if c.probe == nil {
		return true
	}
	return c.probe(ctx)
}

// GenerateSuggestionsStreaming streams suggestions from the hosted model.
func (c *Cloud) GenerateSuggestionsStreaming(ctx context.Context, screen *domain.ScreenState, maxSuggestions int, region *domain.FocusRegion) iter.Seq[inference.Event] {
	model := c.model()
	c.logger.Debug("cloud suggestions requested", "model", model, "focused", region != nil)
	params := openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  suggestionMessages(screen, maxSuggestions, region),
		MaxTokens: openai.Int(c.maxTok),
	}
	return streamSuggestions(ctx, &c.client, params, maxSuggestions)
}

var _ inference.CloudProvider = (*Cloud)(nil)
