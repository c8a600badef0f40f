package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ashureev/screenpilot/internal/domain"
)

// ErrEmptyQuery is returned for blank recall queries.
var ErrEmptyQuery = errors.New("empty recall query")

// Result is the answer to a recall query.
type Result struct {
	Summary            string
	UsedSemanticSearch bool
}

// Match is one history entry similar to a piece of text.
type Match struct {
	Title      string  `json:"title"`
	Preview    string  `json:"preview"`
	Similarity float64 `json:"similarity"`
}

// Service answers recall queries.
type Service interface {
	SmartRecall(ctx context.Context, query string) (Result, error)
	FindSimilar(ctx context.Context, text string, limit int) ([]Match, error)
}

// Document is an indexed piece of history.
type Document struct {
	ID        string
	Title     string
	Text      string
	Timestamp time.Time
}

const (
	previewLen     = 140
	summaryMatches = 3
)

// Index is an in-memory keyword index over conversation and memory history.
type Index struct {
	index  bleve.Index
	logger *slog.Logger
}

// NewIndex creates an empty index.
func NewIndex(logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	indexMapping := mapping.NewIndexMapping()
	docMapping := mapping.NewDocumentMapping()
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("text", textField)
	titleField := mapping.NewTextFieldMapping()
	titleField.Index = false
	docMapping.AddFieldMappingsAt("title", titleField)
	docMapping.AddFieldMappingsAt("timestamp", mapping.NewDateTimeFieldMapping())
	indexMapping.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("creating recall index: %w", err)
	}
	return &Index{index: idx, logger: logger}, nil
}

// Add indexes doc, replacing any document with the same ID.
func (x *Index) Add(doc Document) error {
	if doc.ID == "" {
		return errors.New("recall document requires an id")
	}
	err := x.index.Index(doc.ID, map[string]any{
		"title":     doc.Title,
		"text":      doc.Text,
		"timestamp": doc.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	return nil
}

// AddMessage indexes a chat message.
func (x *Index) AddMessage(msg domain.ChatMessage) error {
	return x.Add(Document{
		ID:        "msg:" + msg.ID,
		Title:     string(msg.Role) + " message",
		Text:      msg.Content,
		Timestamp: msg.Timestamp,
	})
}

// AddMemory indexes a remembered fact.
func (x *Index) AddMemory(item domain.MemoryItem) error {
	return x.Add(Document{
		ID:        "mem:" + item.Key,
		Title:     item.Key,
		Text:      item.Key + ": " + item.Value,
		Timestamp: item.Timestamp,
	})
}

// Count returns the number of indexed documents.
func (x *Index) Count() uint64 {
	n, err := x.index.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// SmartRecall summarizes the best keyword matches for query.
func (x *Index) SmartRecall(ctx context.Context, query string) (Result, error) {
	matches, err := x.search(ctx, query, summaryMatches)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 {
		return Result{Summary: fmt.Sprintf("I couldn't find anything about %q in your history.", query)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here is what I found for %q:", query)
	for _, m := range matches {
		fmt.Fprintf(&b, "\n- %s: %s", m.Title, m.Preview)
	}
	return Result{Summary: b.String()}, nil
}

// FindSimilar returns up to limit entries similar to text. Similarity is the
// hit score relative to the best hit.
func (x *Index) FindSimilar(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	return x.search(ctx, text, limit)
}

func (x *Index) search(ctx context.Context, text string, limit int) ([]Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	query := bleve.NewMatchQuery(text)
	query.SetField("text")

	req := bleve.NewSearchRequest(query)
	req.Size = limit
	req.Fields = []string{"title", "text"}

	results, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recall search: %w", err)
	}
	x.logger.Debug("recall search", "query", text, "total", results.Total)
	if results.Total == 0 || len(results.Hits) == 0 {
		return nil, nil
	}

	best := results.Hits[0].Score
	matches := make([]Match, 0, len(results.Hits))
	for _, hit := range results.Hits {
		title, _ := hit.Fields["title"].(string)
		body, _ := hit.Fields["text"].(string)
		sim := 1.0
		if best > 0 {
			sim = hit.Score / best
		}
		matches = append(matches, Match{
			Title:      title,
			Preview:    preview(body),
			Similarity: sim,
		})
	}
	return matches, nil
}

// Close releases the index.
func (x *Index) Close() error {
	return x.index.Close()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

// Format renders a recall result as an assistant reply.
func Format(res Result) string {
	if res.UsedSemanticSearch {
		return res.Summary + "\n\n(semantic match)"
	}
	return res.Summary
}
