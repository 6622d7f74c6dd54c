package radar

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssessment(t *testing.T) {
	t.Parallel()

	a, err := parseAssessment("Sure! Here it is:\n```json\n" +
		`{"difficulty": "Easy", "clarity": "partial", "feasibility": "HIGH", "reasoning": "Small fix.", "estimated_effort_hours": 2.5}` +
		"\n```")
	require.NoError(t, err)
	assert.Equal(t, DifficultyEasy, a.Difficulty)
	assert.Equal(t, ClarityPartial, a.Clarity)
	assert.Equal(t, FeasibilityHigh, a.Feasibility)
	assert.Equal(t, "Small fix.", a.Reasoning)
	assert.InDelta(t, 2.5, a.EffortHours, 1e-9)

	for name, answer := range map[string]string{
		"NoJSON":         "I cannot help with that.",
		"Broken":         `{"difficulty": "easy",`,
		"BadDifficulty":  `{"difficulty": "trivial", "clarity": "clear", "feasibility": "high"}`,
		"BadClarity":     `{"difficulty": "easy", "clarity": "", "feasibility": "high"}`,
		"BadFeasibility": `{"difficulty": "easy", "clarity": "clear", "feasibility": "maybe"}`,
	} {
		_, err := parseAssessment(answer)
		assert.Error(t, err, name)
	}
}

func TestTruncateTokens(t *testing.T) {
	t.Parallel()

	short := "Clicking save twice crashes the editor."
	assert.Equal(t, short, truncateTokens(short, 100))

	long := "START " + strings.Repeat("lorem ipsum dolor sit amet ", 500) + " END"
	got := truncateTokens(long, 50)
	assert.Less(t, len(got), len(long))
	assert.True(t, strings.HasPrefix(got, "START"), got)
	assert.True(t, strings.HasSuffix(got, "END"), got)
	assert.Contains(t, got, "\n...\n")

	// An odd budget gives the extra token to the head.
	got = truncateTokens(long, 1)
	head, ok := strings.CutSuffix(got, "\n...\n")
	require.True(t, ok, got)
	assert.NotEmpty(t, head)
	assert.True(t, strings.HasPrefix(long, head), got)
	assert.Empty(t, truncateTokens(long, 0))
}

type scriptedProvider struct {
	answer string
	err    error
	system string
	prompt string
}

func (p *scriptedProvider) Name() string { return "scripted/v1" }

func (p *scriptedProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	p.system, p.prompt = system, prompt
	return p.answer, p.err
}

func TestLLMAssessor(t *testing.T) {
	t.Parallel()

	issue := &Issue{
		RepoKey: "acme/widgets",
		Number:  12,
		Title:   "Crash on save",
		Body:    "Steps: click save twice.",
		Labels:  []string{"bug", "good first issue"},
	}
	repo := &Repository{Owner: "acme", Name: "widgets", Language: "Go", Stars: 321}

	p := &scriptedProvider{answer: `{"difficulty": "medium", "clarity": "clear", "feasibility": "medium", "reasoning": "ok", "estimated_effort_hours": 6}`}
	a, err := (&LLMAssessor{Log: discardLogger(), Provider: p}).Assess(context.Background(), issue, repo)
	require.NoError(t, err)
	assert.Equal(t, DifficultyMedium, a.Difficulty)
	assert.Equal(t, "scripted/v1", a.Model)

	assert.Contains(t, p.system, "JSON")
	assert.Contains(t, p.prompt, "acme/widgets (Go, 321 stars)")
	assert.Contains(t, p.prompt, "Issue #12: Crash on save")
	assert.Contains(t, p.prompt, "bug, good first issue")
	assert.Contains(t, p.prompt, "click save twice")

	p = &scriptedProvider{err: errors.New("quota exceeded")}
	_, err = (&LLMAssessor{Provider: p}).Assess(context.Background(), issue, repo)
	require.Error(t, err)

	p = &scriptedProvider{answer: "no idea"}
	_, err = (&LLMAssessor{Provider: p}).Assess(context.Background(), issue, repo)
	require.Error(t, err)
}
