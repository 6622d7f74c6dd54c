package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ammario/prefixsuffix"
	"github.com/coder/radar/llm"
	"github.com/tiktoken-go/tokenizer"
)

// Assessor judges the difficulty, clarity and feasibility of an issue.
type Assessor interface {
	Assess(ctx context.Context, issue *Issue, repo *Repository) (*Assessment, error)
}

// LLMAssessor asks a language model for an Assessment.
type LLMAssessor struct {
	Log      *slog.Logger
	Provider llm.Provider
	// BodyTokens caps the issue body in the prompt. Defaults to 1500.
	BodyTokens int
}

const assessSystemPrompt = `You assess GitHub issues for someone looking for a first contribution.
Answer with a single JSON object and nothing else.`

const assessPromptTail = `
Rate the issue:
- difficulty: "easy", "medium" or "hard"
- clarity: "clear", "partial" or "unclear" (how well the requirements are specified)
- feasibility: "high", "medium" or "low" (can a newcomer finish it without deep project knowledge)
- reasoning: two or three sentences
- estimated_effort_hours: a number

Respond in this exact JSON format:
{"difficulty": "easy", "clarity": "clear", "feasibility": "high", "reasoning": "...", "estimated_effort_hours": 4}
`

var (
	encOnce sync.Once
	enc     tokenizer.Codec
	encErr  error
)

func codec() (tokenizer.Codec, error) {
	encOnce.Do(func() {
		enc, encErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return enc, encErr
}

// truncateTokens keeps at most n tokens of s. When the tokenizer is
// unavailable it falls back to keeping the head and tail of s.
func truncateTokens(s string, n int) string {
	c, err := codec()
	if err != nil {
		saver := prefixsuffix.Saver{N: n * 2}
		_, _ = saver.Write([]byte(s))
		return string(saver.Bytes())
	}
	_, toks, err := c.Encode(s)
	if err != nil || len(toks) <= n {
		return s
	}
	// Keep both ends: reproduction steps tend to be at the top and
	// expected behavior at the bottom.
	if n < 1 {
		return ""
	}
	head := strings.Join(toks[:n-n/2], "")
	tail := strings.Join(toks[len(toks)-n/2:], "")
	return head + "\n...\n" + tail
}

func assessPrompt(issue *Issue, repo *Repository, bodyTokens int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s (%s, %d stars)\n", repo.FullName(), repo.Language, repo.Stars)
	if repo.Description != "" {
		fmt.Fprintf(&sb, "Repository description: %s\n", repo.Description)
	}
	fmt.Fprintf(&sb, "Issue #%d: %s\n", issue.Number, issue.Title)
	fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	fmt.Fprintf(&sb, "Comments: %d\n", issue.Comments)
	body := strings.TrimSpace(issue.Body)
	if body == "" {
		body = "No description"
	}
	fmt.Fprintf(&sb, "Description:\n%s\n", truncateTokens(body, bodyTokens))
	sb.WriteString(assessPromptTail)
	return sb.String()
}

type assessmentJSON struct {
	Difficulty  string  `json:"difficulty"`
	Clarity     string  `json:"clarity"`
	Feasibility string  `json:"feasibility"`
	Reasoning   string  `json:"reasoning"`
	EffortHours float64 `json:"estimated_effort_hours"`
}

// parseAssessment extracts the first JSON object from a model answer and
// validates its classes.
func parseAssessment(answer string) (*Assessment, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in answer")
	}
	var raw assessmentJSON
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	a := &Assessment{
		Difficulty:  Difficulty(strings.ToLower(strings.TrimSpace(raw.Difficulty))),
		Clarity:     Clarity(strings.ToLower(strings.TrimSpace(raw.Clarity))),
		Feasibility: Feasibility(strings.ToLower(strings.TrimSpace(raw.Feasibility))),
		Reasoning:   raw.Reasoning,
		EffortHours: raw.EffortHours,
	}
	switch a.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return nil, fmt.Errorf("unknown difficulty %q", raw.Difficulty)
	}
	switch a.Clarity {
	case ClarityClear, ClarityPartial, ClarityUnclear:
	default:
		return nil, fmt.Errorf("unknown clarity %q", raw.Clarity)
	}
	switch a.Feasibility {
	case FeasibilityHigh, FeasibilityMedium, FeasibilityLow:
	default:
		return nil, fmt.Errorf("unknown feasibility %q", raw.Feasibility)
	}
	return a, nil
}

func (a *LLMAssessor) Assess(ctx context.Context, issue *Issue, repo *Repository) (*Assessment, error) {
	bodyTokens := a.BodyTokens
	if bodyTokens <= 0 {
		bodyTokens = 1500
	}
	answer, err := a.Provider.Complete(ctx, assessSystemPrompt, assessPrompt(issue, repo, bodyTokens))
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	assessment, err := parseAssessment(answer)
	if err != nil {
		return nil, fmt.Errorf("parse %s answer: %w", a.Provider.Name(), err)
	}
	assessment.Model = a.Provider.Name()
	return assessment, nil
}
