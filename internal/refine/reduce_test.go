package refine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func TestReduce_SubmitFromIdle(t *testing.T) {
	next, call, err := Reduce(Idle{}, Submit{Text: "  mail me a digest  "})
	require.NoError(t, err)

	assert.Equal(t, Asking{Query: "mail me a digest"}, next)
	require.NotNil(t, call)
	assert.Equal(t, FlagClarify, call.Flag)
	assert.Empty(t, call.Answers)
}

func TestReduce_SubmitEmpty(t *testing.T) {
	next, _, err := Reduce(Idle{}, Submit{Text: "   "})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Equal(t, Idle{}, next)
}

func TestReduce_QuestionsThenReplies(t *testing.T) {
	s := State(Asking{Query: "q"})
	s, _, err := Reduce(s, QuestionsReceived{Questions: []string{"Which label? * INBOX * SPAM", "How often?"}})
	require.NoError(t, err)

	aw := s.(AwaitingClarification)
	assert.Equal(t, 1, aw.Index)
	assert.Equal(t, "Which label?", aw.Current().Prompt)
	assert.Equal(t, []string{"INBOX", "SPAM"}, aw.Current().Options)

	s, call, err := Reduce(s, Reply{Text: "INBOX"})
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, 2, s.(AwaitingClarification).Index)

	s, call, err = Reduce(s, Reply{Text: "daily"})
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, FlagRefine, call.Flag)
	assert.Equal(t, "q", call.Query)
	assert.Equal(t, Answers{
		{Question: "Which label? * INBOX * SPAM", Reply: "INBOX"},
		{Question: "How often?", Reply: "daily"},
	}, call.Answers)
	assert.Equal(t, PhaseRefining, s.Phase())

	s, _, err = Reduce(s, SpecReceived{Spec: "refined"})
	require.NoError(t, err)
	assert.Equal(t, Refined{Query: "q", Spec: "refined", Answers: call.Answers}, s)
}

func TestReduce_ZeroQuestions(t *testing.T) {
	s, call, err := Reduce(Asking{Query: "q"}, QuestionsReceived{})
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, Refined{Query: "q", Spec: "q", Notice: NoQuestionsMessage}, s)
}

func TestReduce_FailureRollsBack(t *testing.T) {
	s, _, err := Reduce(Asking{Query: "q"}, CallFailed{Err: assert.AnError})
	require.NoError(t, err)
	assert.Equal(t, Idle{Err: ErrorMessage}, s)

	s, _, err = Reduce(Refining{Original: "q", Query: "q", Answers: Answers{{"a", "b"}}}, CallFailed{Err: assert.AnError})
	require.NoError(t, err)
	assert.Equal(t, Idle{Err: ErrorMessage}, s, "no partial answers retained")
}

func TestReduce_Amend(t *testing.T) {
	prev := Refined{Query: "q", Spec: "spec v1", Answers: Answers{{"Which?", "A"}}}

	s, call, err := Reduce(prev, Amend{Text: "also cc me"})
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "spec v1", call.Query)
	assert.Equal(t, FlagRefine, call.Flag)
	assert.Equal(t, Answers{{"Which?", "A"}, {AmendKey, "also cc me"}}, call.Answers)

	ok, _, err := Reduce(s, SpecReceived{Spec: "spec v2"})
	require.NoError(t, err)
	assert.Equal(t, "spec v2", ok.(Refined).Spec)
	assert.Equal(t, "q", ok.(Refined).Query)

	failed, _, err := Reduce(s, CallFailed{Err: assert.AnError})
	require.NoError(t, err)
	assert.Equal(t, prev, failed, "failed amend keeps the last good spec")
}

func TestReduce_BusyWhileInFlight(t *testing.T) {
	for _, s := range []State{Asking{Query: "q"}, Refining{Query: "q"}} {
		_, _, err := Reduce(s, Submit{Text: "again"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeBusy), "submit during %s", s.Phase())
		_, _, err = Reduce(s, Reply{Text: "x"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeBusy), "reply during %s", s.Phase())
	}
}

func TestReduce_InvalidTransitions(t *testing.T) {
	_, _, err := Reduce(Idle{}, Reply{Text: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))

	_, _, err = Reduce(Idle{}, SpecReceived{Spec: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))

	_, _, err = Reduce(AwaitingClarification{Questions: []string{"a"}, Index: 1}, Submit{Text: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func TestReduce_Reset(t *testing.T) {
	s, call, err := Reduce(AwaitingClarification{Questions: []string{"a"}, Index: 1}, Reset{})
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.Equal(t, Idle{}, s)
}

func TestParseQuestion(t *testing.T) {
	cases := []struct {
		in   string
		want Question
	}{
		{"Plain question?", Question{Prompt: "Plain question?"}},
		{" Pick one: * Yes *No * ", Question{Prompt: "Pick one:", Options: []string{"Yes", "No", ""}}},
		{"Pick one * A * * B", Question{Prompt: "Pick one", Options: []string{"A", "", "B"}}},
		{"*only options*a", Question{Prompt: "", Options: []string{"only options", "a"}}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseQuestion(tc.in), tc.in)
	}
}

func TestAnswers_JSON(t *testing.T) {
	a := Answers{}.With("b?", "1").With("a?", "2").With("b?", "3")

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `{"b?":"3","a?":"2"}`, string(data))

	var back Answers
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)

	empty, err := json.Marshal(Answers(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}
