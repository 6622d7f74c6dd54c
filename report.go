package radar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/radar/ghapi"
	"github.com/coder/radar/pool"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Run phases.
const (
	PhaseQuota        = "quota"
	PhaseRepositories = "repositories"
	PhaseIssues       = "issues"
	PhaseAssessment   = "assessment"
)

// Rejection reasons.
const (
	RejectStars         = "stars"
	RejectLanguage      = "language"
	RejectStale         = "stale"
	RejectNoOpenIssues  = "no_open_issues"
	RejectNotAccepting  = "not_accepting_contributions"
	RejectSeen          = "already_seen"
	RejectPullRequest   = "pull_request"
	RejectLabel         = "disqualifying_label"
	RejectAge           = "age"
	RejectAssigned      = "assigned"
	RejectShortTitle    = "short_title"
	RejectShortBody     = "short_body"
	RejectKeyword       = "keyword"
	RejectOrphan        = "orphan"
	RejectOverRepoLimit = "over_max_repos"
)

// Failure is a unit of work that did not complete.
type Failure struct {
	Phase   string `json:"phase"`
	Unit    string `json:"unit"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, pool.ErrNotDispatched):
		return "not_dispatched"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if k := ghapi.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// Report summarizes a run. Failures are always listed, so an empty result
// is never silent.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Quota         ghapi.QuotaStatus `json:"quota"`
	StoreDegraded bool              `json:"store_degraded"`

	Repositories []*Repository `json:"repositories"`
	Ranked       []Candidate   `json:"ranked"`
	Narration    string        `json:"narration,omitempty"`

	Failures        []Failure               `json:"failures"`
	RepoRejections  map[string]int          `json:"repo_rejections"`
	IssueRejections map[string]int          `json:"issue_rejections"`
	Dispatch        map[string]pool.Summary `json:"dispatch"`
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailuresByPhase counts failures per phase.
func (r *Report) FailuresByPhase() map[string]int {
	m := make(map[string]int)
	for _, f := range r.Failures {
		m[f.Phase]++
	}
	return m
}

// SortedReasons returns the keys of a rejection map in a stable order.
func SortedReasons(m map[string]int) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// tally is a counter safe for concurrent workers.
type tally struct {
	mu sync.Mutex
	m  map[string]int
}

func newTally() *tally {
	return &tally{m: make(map[string]int)}
}

func (t *tally) inc(reason string) {
	t.mu.Lock()
	t.m[reason]++
	t.mu.Unlock()
}

func (t *tally) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.m)
}
