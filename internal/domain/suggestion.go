package domain

import (
	"cmp"
	"encoding/json"
	"slices"
)

// Suggestion is a proposed next step shown to the user.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Priority    int    `json:"priority"`
	Action      Action `json:"-"`
}

type suggestionJSON struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Icon        string          `json:"icon,omitempty"`
	Priority    int             `json:"priority"`
	Action      json.RawMessage `json:"action,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	out := suggestionJSON{
		Title:       s.Title,
		Description: s.Description,
		Icon:        s.Icon,
		Priority:    s.Priority,
	}
	if s.Action != nil {
		raw, err := EncodeAction(s.Action)
		if err != nil {
			return nil, err
		}
		out.Action = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. An action of unknown type is
// dropped and the suggestion kept.
func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var in suggestionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Suggestion{
		Title:       in.Title,
		Description: in.Description,
		Icon:        in.Icon,
		Priority:    in.Priority,
	}
	if len(in.Action) > 0 && string(in.Action) != "null" {
		if a, err := DecodeAction(in.Action); err == nil {
			s.Action = a
		}
	}
	return nil
}

// SortSuggestions orders s by descending priority, keeping the relative order
// of equal priorities.
func SortSuggestions(s []Suggestion) {
	slices.SortStableFunc(s, func(a, b Suggestion) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
}
