// Package refine implements the clarification loop that turns a free-text
// goal into a refined specification.
package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Phase names a state of the refinement machine.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseAsking   Phase = "asking"
	PhaseAwaiting Phase = "awaiting_clarification"
	PhaseRefining Phase = "refining"
	PhaseRefined  Phase = "refined"
)

// Flags sent to the refine endpoint.
const (
	FlagClarify = 0 // request clarifying questions
	FlagRefine  = 1 // request the refined specification
)

// Messages shown to the user on terminal outcomes.
const (
	ErrorMessage       = "I encountered an error processing your request. Please try again."
	NoQuestionsMessage = "I don't have any clarifying questions. Would you like me to generate a workflow based on your query?"
)

// AmendKey is the answer key carrying a free-form amendment.
const AmendKey = "user"

// State is one of Idle, Asking, AwaitingClarification, Refining or Refined.
type State interface {
	Phase() Phase
}

// Idle waits for a query. Err holds the message of the failure that led
// back here, if any.
type Idle struct {
	Err string `json:"error,omitempty"`
}

// Asking has a clarify call outstanding.
type Asking struct {
	Query string `json:"query"`
}

// AwaitingClarification shows Questions[Index-1] and waits for a reply.
// Index is 1-based.
type AwaitingClarification struct {
	Query     string   `json:"query"`
	Questions []string `json:"questions"`
	Index     int      `json:"index"`
	Answers   Answers  `json:"answers"`
}

// Refining has a refine call outstanding. Query is what was sent: the
// original query, or the previous specification when amending.
type Refining struct {
	Original string   `json:"original"`
	Query    string   `json:"query"`
	Answers  Answers  `json:"answers"`
	Amending *Refined `json:"amending,omitempty"`
}

// Refined holds the refined specification.
type Refined struct {
	Query   string  `json:"query"`
	Spec    string  `json:"spec"`
	Answers Answers `json:"answers,omitempty"`
	Notice  string  `json:"notice,omitempty"`
}

func (Idle) Phase() Phase                  { return PhaseIdle }
func (Asking) Phase() Phase                { return PhaseAsking }
func (AwaitingClarification) Phase() Phase { return PhaseAwaiting }
func (Refining) Phase() Phase              { return PhaseRefining }
func (Refined) Phase() Phase               { return PhaseRefined }

// Current returns the question being asked.
func (s AwaitingClarification) Current() Question {
	if s.Index < 1 || s.Index > len(s.Questions) {
		return Question{}
	}
	return ParseQuestion(s.Questions[s.Index-1])
}

// Remaining returns how many replies are still needed.
func (s AwaitingClarification) Remaining() int {
	return len(s.Questions) - s.Index + 1
}

// InFlight reports whether the state has a call outstanding.
func InFlight(s State) bool {
	switch s.(type) {
	case Asking, Refining:
		return true
	}
	return false
}

// Answer binds a reply to the full question text it answers.
type Answer struct {
	Question string
	Reply    string
}

// Answers is an ordered question to reply mapping. It encodes as a JSON
// object in insertion order.
type Answers []Answer

// With returns a copy with q bound to reply, replacing an earlier binding.
func (a Answers) With(q, reply string) Answers {
	out := make(Answers, 0, len(a)+1)
	replaced := false
	for _, ans := range a {
		if ans.Question == q {
			ans.Reply = reply
			replaced = true
		}
		out = append(out, ans)
	}
	if !replaced {
		out = append(out, Answer{Question: q, Reply: reply})
	}
	return out
}

// Get returns the reply bound to q.
func (a Answers) Get(q string) (string, bool) {
	for _, ans := range a {
		if ans.Question == q {
			return ans.Reply, true
		}
	}
	return "", false
}

// Map returns an unordered copy.
func (a Answers) Map() map[string]string {
	out := make(map[string]string, len(a))
	for _, ans := range a {
		out[ans.Question] = ans.Reply
	}
	return out
}

func (a Answers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ans := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(ans.Question)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(ans.Reply)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Answers) UnmarshalJSON(data []byte) error {
	*a = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("answers must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		q, _ := tok.(string)
		var reply string
		if err := dec.Decode(&reply); err != nil {
			return fmt.Errorf("answer to %q: %w", q, err)
		}
		*a = a.With(q, reply)
	}
	_, err := dec.Token()
	return err
}
