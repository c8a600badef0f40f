// Package recall decides whether user input asks about past activity and
// answers such questions from indexed history.
package recall

import "strings"

// Kind is the branch a piece of input is routed to.
type Kind int

const (
	// Generative input goes to the language model.
	Generative Kind = iota
	// Recall input is answered from history.
	Recall
)

func (k Kind) String() string {
	if k == Recall {
		return "recall"
	}
	return "generative"
}

// Classification is the result of Classify. Text is the recall query for
// Recall and the original input for Generative.
type Classification struct {
	Kind Kind
	Text string
}

// Longer prefixes first so "search history:" wins over "search history ".
var recallPrefixes = []string{
	"search history:",
	"search history ",
	"recall:",
	"recall ",
	"find:",
}

var recallPhrases = []string{
	"what did i copy",
	"what did i see",
	"what did i do",
	"what did i read",
	"what did i search",
	"what was that",
	"what were those",
	"find similar",
	"similar to this",
	"show my history",
	"search my history",
	"from my history",
	"have i seen",
	"did i save",
	"when did i",
}

// Classify routes text to Recall or Generative. Matching is case-insensitive
// on the trimmed input. An explicit prefix is stripped from the query; a
// phrase match keeps the whole input.
func Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, p := range recallPrefixes {
		if len(trimmed) >= len(p) && strings.EqualFold(trimmed[:len(p)], p) {
			return Classification{Kind: Recall, Text: strings.TrimSpace(trimmed[len(p):])}
		}
	}

	for _, p := range recallPhrases {
		if strings.Contains(lower, p) {
			return Classification{Kind: Recall, Text: trimmed}
		}
	}
	if strings.Contains(lower, "remember") && strings.Contains(lower, "?") {
		return Classification{Kind: Recall, Text: trimmed}
	}

	return Classification{Kind: Generative, Text: trimmed}
}
