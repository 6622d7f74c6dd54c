package radar

import (
	"strings"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/google/go-github/v59/github"
)

// Repository is a candidate source of work.
type Repository struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	Language    string    `json:"language,omitempty"`
	PushedAt    time.Time `json:"pushed_at"`
	OpenIssues  int       `json:"open_issues"`
	Topics      []string  `json:"topics,omitempty"`
	HasLicense  bool      `json:"has_license"`
	Archived    bool      `json:"archived,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
	HasIssues   bool      `json:"has_issues"`
	// FoundVia is the topic, or "list", that surfaced the repository.
	FoundVia string `json:"found_via,omitempty"`
}

// Key is the case-insensitive identity "owner/name".
func (r *Repository) Key() string {
	return strings.ToLower(r.Owner + "/" + r.Name)
}

func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r *Repository) Identity() dedup.Identity {
	return dedup.Repository(r.Key())
}

func repositoryFromGitHub(r *github.Repository, via string) *Repository {
	return &Repository{
		Owner:       r.GetOwner().GetLogin(),
		Name:        r.GetName(),
		Description: r.GetDescription(),
		URL:         r.GetHTMLURL(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		Language:    r.GetLanguage(),
		PushedAt:    r.GetPushedAt().Time,
		OpenIssues:  r.GetOpenIssuesCount(),
		Topics:      r.Topics,
		HasLicense:  r.License != nil,
		Archived:    r.GetArchived(),
		Disabled:    r.GetDisabled(),
		HasIssues:   r.GetHasIssues(),
		FoundVia:    via,
	}
}

// Issue is a candidate work item.
type Issue struct {
	RepoKey   string    `json:"repo"`
	Number    int       `json:"number"`
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	State     string    `json:"state"`
	URL       string    `json:"url,omitempty"`
	Comments  int       `json:"comments"`
	Reactions int       `json:"reactions"`
	Assignees int       `json:"assignees"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *Issue) Identity() dedup.Identity {
	return dedup.Issue(i.RepoKey, i.Number)
}

// AgeDays is the number of whole days since the issue was opened.
func (i *Issue) AgeDays(now time.Time) int {
	d := int(now.Sub(i.CreatedAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// HasLabel reports whether the issue carries any of names, ignoring case.
func (i *Issue) HasLabel(names ...string) bool {
	for _, l := range i.Labels {
		for _, n := range names {
			if strings.EqualFold(l, n) {
				return true
			}
		}
	}
	return false
}

func issueFromGitHub(repoKey string, gi *github.Issue) *Issue {
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{
		RepoKey:   repoKey,
		Number:    gi.GetNumber(),
		ID:        gi.GetID(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		Labels:    labels,
		State:     gi.GetState(),
		URL:       gi.GetHTMLURL(),
		Comments:  gi.GetComments(),
		Reactions: gi.GetReactions().GetTotalCount(),
		Assignees: len(gi.Assignees),
		CreatedAt: gi.GetCreatedAt().Time,
		UpdatedAt: gi.GetUpdatedAt().Time,
	}
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Clarity string

const (
	ClarityClear   Clarity = "clear"
	ClarityPartial Clarity = "partial"
	ClarityUnclear Clarity = "unclear"
)

type Feasibility string

const (
	FeasibilityHigh   Feasibility = "high"
	FeasibilityMedium Feasibility = "medium"
	FeasibilityLow    Feasibility = "low"
)

// Assessment is an external judgement of one issue.
type Assessment struct {
	Difficulty  Difficulty  `json:"difficulty"`
	Clarity     Clarity     `json:"clarity"`
	Feasibility Feasibility `json:"feasibility"`
	Reasoning   string      `json:"reasoning,omitempty"`
	EffortHours float64     `json:"estimated_effort_hours,omitempty"`
	Model       string      `json:"model,omitempty"`
}

// Candidate is an issue together with everything needed to score it.
type Candidate struct {
	Issue      *Issue      `json:"issue"`
	Repo       *Repository `json:"repository"`
	Assessment *Assessment `json:"assessment,omitempty"`
	Score      Score       `json:"score"`
}
