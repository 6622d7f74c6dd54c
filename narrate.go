package radar

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// NarrationSize is how many ranked issues the narration covers.
const NarrationSize = 10

// IssueType guesses a coarse type from labels.
func IssueType(i *Issue) string {
	switch {
	case i.HasLabel("bug", "bugfix"):
		return "Bug"
	case i.HasLabel("feature", "enhancement"):
		return "Feature"
	case i.HasLabel("documentation", "docs"):
		return "Documentation"
	default:
		return "Enhancement"
	}
}

// DifficultyLabel is the assessed difficulty, or one derived from the
// composite score when no assessment exists.
func DifficultyLabel(c Candidate) string {
	if c.Assessment != nil && c.Assessment.Difficulty != "" {
		return strings.ToUpper(string(c.Assessment.Difficulty[:1])) + string(c.Assessment.Difficulty[1:])
	}
	switch {
	case c.Score.Total >= 0.7:
		return "Easy"
	case c.Score.Total >= 0.5:
		return "Medium"
	default:
		return "Hard"
	}
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// Narrate renders a plain text script of the top ranked issues, suitable for
// speech synthesis.
func Narrate(ranked []Candidate) string {
	top := ranked
	if len(top) > NarrationSize {
		top = top[:NarrationSize]
	}

	var sb strings.Builder
	if len(top) == 0 {
		sb.WriteString("Welcome to your GitHub issues summary. ")
		sb.WriteString("No new issues matched this time. Check back after the next run.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Welcome to your GitHub issues summary. ")
	fmt.Fprintf(&sb, "I found %d interesting issues and ranked them from most to least approachable. ", len(top))
	sb.WriteString("Let's dive into these opportunities to contribute to open source.\n\n")

	for i, c := range top {
		desc := shorten(c.Issue.Body, 200)
		if desc == "" {
			desc = "No description provided"
		}
		fmt.Fprintf(&sb, "Issue %d of %d. ", i+1, len(top))
		fmt.Fprintf(&sb, "Repository: %s. ", c.Repo.Name)
		fmt.Fprintf(&sb, "Type: %s. ", IssueType(c.Issue))
		fmt.Fprintf(&sb, "Title: %s. ", shorten(c.Issue.Title, 120))
		fmt.Fprintf(&sb, "Description: %s. ", desc)
		fmt.Fprintf(&sb, "Difficulty level: %s.\n\n", DifficultyLabel(c))
	}

	sb.WriteString("That concludes your GitHub issues summary. ")
	sb.WriteString("The list starts with the most approachable issues, so the first few are a good place to begin. ")
	sb.WriteString("Read the full issue and the project's contribution guidelines before diving in. Happy coding!")
	return sb.String()
}
