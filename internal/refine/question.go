package refine

import "strings"

// Question is a clarifying question split into its prompt and quick-reply
// options.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// ParseQuestion splits a question on '*'. The first part is the prompt and
// every other part is a selectable reply, empty ones included so option
// numbers line up with the '*' markers. Parts are trimmed.
func ParseQuestion(s string) Question {
	parts := strings.Split(strings.TrimSpace(s), "*")
	q := Question{Prompt: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		q.Options = append(q.Options, strings.TrimSpace(p))
	}
	return q
}
