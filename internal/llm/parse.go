package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ashureev/screenpilot/internal/domain"
)

var errNoJSON = errors.New("no JSON object in model output")

// extractJSON returns the outermost JSON object of s, skipping code fences
// and chatter around it.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return s[start : end+1], nil
}

type modelReply struct {
	Actions       domain.ActionPlan `json:"actions"`
	MemoryUpdates []struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		Category string `json:"category"`
	} `json:"memory_updates"`
	Response string `json:"response"`
}

// parseReply decodes the assistant JSON. Output that is not JSON becomes a
// plain respond action.
func parseReply(raw string) (domain.ActionPlan, []domain.MemoryItem) {
	obj, err := extractJSON(raw)
	var reply modelReply
	if err == nil {
		err = json.Unmarshal([]byte(obj), &reply)
	}
	if err != nil {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, nil
		}
		return domain.ActionPlan{domain.Respond{Message: text}}, nil
	}

	plan := reply.Actions
	if _, ok := plan.FirstResponse(); !ok && reply.Response != "" {
		plan = append(domain.ActionPlan{domain.Respond{Message: reply.Response}}, plan...)
	}

	var memories []domain.MemoryItem
	for _, m := range reply.MemoryUpdates {
		key := strings.TrimSpace(m.Key)
		if key == "" || m.Value == "" {
			continue
		}
		memories = append(memories, domain.MemoryItem{Key: key, Value: m.Value, Category: m.Category})
	}
	return plan, memories
}

// parseSuggestions decodes a {"suggestions": [...]} object or a bare array.
func parseSuggestions(raw string) ([]domain.Suggestion, error) {
	trimmed := strings.TrimSpace(raw)
	if i := strings.IndexByte(trimmed, '['); i >= 0 && (strings.IndexByte(trimmed, '{') < 0 || i < strings.IndexByte(trimmed, '{')) {
		end := strings.LastIndexByte(trimmed, ']')
		if end > i {
			var list []domain.Suggestion
			if err := json.Unmarshal([]byte(trimmed[i:end+1]), &list); err == nil {
				return cleanSuggestions(list), nil
			}
		}
	}

	obj, err := extractJSON(trimmed)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Suggestions []domain.Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
		return nil, err
	}
	return cleanSuggestions(wrapper.Suggestions), nil
}

func cleanSuggestions(in []domain.Suggestion) []domain.Suggestion {
	out := make([]domain.Suggestion, 0, len(in))
	for _, s := range in {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
