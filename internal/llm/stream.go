package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/inference"
)

func newClient(baseURL, apiKey string, extra ...option.RequestOption) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(append(opts, extra...)...)
}

// streamSuggestions runs a streaming completion, forwarding deltas as Token
// events and parsing the full text into suggestions at the end. The
// highest-priority suggestions are kept when the reply exceeds limit.
func streamSuggestions(ctx context.Context, client *openai.Client, params openai.ChatCompletionNewParams, limit int) iter.Seq[inference.Event] {
	return func(yield func(inference.Event) bool) {
		stream := client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		var text strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				text.WriteString(choice.Delta.Content)
				if !yield(inference.Token{Text: choice.Delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(inference.ErrorEvent(fmt.Errorf("completion stream: %w", err)))
			return
		}

		suggestions, err := parseSuggestions(text.String())
		if err != nil {
			yield(inference.ErrorEvent(fmt.Errorf("parse suggestions: %w", err)))
			return
		}
		domain.SortSuggestions(suggestions)
		if limit > 0 && len(suggestions) > limit {
			suggestions = suggestions[:limit]
		}
		yield(inference.Complete{Suggestions: suggestions})
	}
}
