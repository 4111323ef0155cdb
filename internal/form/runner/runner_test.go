package runner

import (
	"errors"
	"testing"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() entity.FormSchema {
	return entity.FormSchema{
		Title: "Feedback",
		Fields: []entity.FormField{
			{ID: "name", Label: "Name", Type: entity.FieldShortText, Required: true},
			{ID: "email", Label: "Email", Type: entity.FieldEmail, Required: true},
			{ID: "plan", Label: "Plan", Type: entity.FieldMultipleChoice, Required: true, Options: []string{"Free", "Pro", "Team"}},
			{ID: "score", Label: "Score", Type: entity.FieldNumber, Required: true},
			{ID: "notes", Label: "Notes", Type: entity.FieldLongText},
		},
	}
}

func TestRunner_ProgressAndNavigation(t *testing.T) {
	r := New(sampleSchema())

	assert.Equal(t, 0, r.Index())
	assert.InDelta(t, 20.0, r.Progress(), 0.001)

	out, err := r.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequired))
	assert.Equal(t, OutcomeStay, out)
	assert.Equal(t, 0, r.Index())

	out, err = r.NextWith("Ada")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvance, out)
	assert.Equal(t, 1, r.Index())
	assert.InDelta(t, 40.0, r.Progress(), 0.001)

	r.Back()
	r.Back()
	assert.Equal(t, 0, r.Index(), "back must not go below zero")

	v, ok := r.Answer("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
}

func TestRunner_InvalidEmailBlocksAdvance(t *testing.T) {
	r := New(sampleSchema())
	_, err := r.NextWith("Ada")
	require.NoError(t, err)

	_, err = r.NextWith("not-an-email")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEmail))
	assert.Equal(t, 1, r.Index())
	assert.Equal(t, err, r.Err())

	out, err := r.NextWith("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvance, out)
	assert.Nil(t, r.Err())
}

func TestRunner_LetterKeysSelectOption(t *testing.T) {
	r := New(sampleSchema())
	r.NextWith("Ada")
	r.NextWith("ada@example.com")
	require.Equal(t, 2, r.Index())

	out, err := r.HandleKey("z")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStay, out, "letter past the option list is ignored")

	out, err = r.HandleKey("b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvance, out)
	v, _ := r.Answer("plan")
	assert.Equal(t, "Pro", v)
	assert.Equal(t, 3, r.Index())

	out, err = r.HandleKey("a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStay, out, "letters do nothing on non-choice fields")
	assert.Equal(t, 3, r.Index())
}

func TestRunner_ZeroIsAnAnswer(t *testing.T) {
	r := New(sampleSchema())
	r.NextWith("Ada")
	r.NextWith("ada@example.com")
	r.HandleKey("A")

	out, err := r.NextWith(float64(0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvance, out)
}

func TestRunner_LastFieldSubmits(t *testing.T) {
	r := New(sampleSchema())
	r.NextWith("Ada")
	r.NextWith("ada@example.com")
	r.HandleKey("C")
	r.NextWith(7)

	require.True(t, r.IsLast())
	out, err := r.HandleKey(KeyEnter)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmit, out)
	assert.InDelta(t, 100.0, r.Progress(), 0.001)

	r.MarkSubmitted()
	assert.True(t, r.Submitted())
	out, _ = r.Next()
	assert.Equal(t, OutcomeStay, out)

	answers := r.Answers()
	assert.Len(t, answers, 4)
	assert.Equal(t, "Team", answers["plan"])
}

func TestRunner_EmptySchema(t *testing.T) {
	r := New(entity.FormSchema{})
	_, ok := r.Current()
	assert.False(t, ok)
	out, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmit, out)
}

func TestOptionKey(t *testing.T) {
	assert.Equal(t, "A", OptionKey(0))
	assert.Equal(t, "Z", OptionKey(25))
	assert.Equal(t, "", OptionKey(26))
}
