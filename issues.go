package radar

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/coder/radar/dedup"
	"github.com/coder/radar/pool"
)

// rejectIssue applies the static issue filters in order and returns the
// first failing reason, or "".
func (d *discovery) rejectIssue(i *Issue) string {
	if i.HasLabel(d.cfg.DisqualifyingLabels...) {
		return RejectLabel
	}
	age := i.AgeDays(d.now)
	if age < d.cfg.MinIssueAgeDays || age > d.cfg.MaxIssueAgeDays {
		return RejectAge
	}
	if utf8.RuneCountInString(strings.TrimSpace(i.Title)) < d.cfg.MinTitleLength {
		return RejectShortTitle
	}
	if body := strings.TrimSpace(i.Body); body != "" && utf8.RuneCountInString(body) < d.cfg.MinBodyLength {
		return RejectShortBody
	}
	if d.cfg.SkipAssigned && i.Assignees > 0 {
		return RejectAssigned
	}
	if len(d.cfg.ExcludeKeywords) > 0 {
		text := strings.ToLower(i.Title + "\n" + i.Body)
		for _, kw := range d.cfg.ExcludeKeywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return RejectKeyword
			}
		}
	}
	return ""
}

// collectIssues pages through the open issues of repo until the source is
// exhausted or MaxIssuesPerRepo issues are retained. Retained issues are
// recorded as they are found; whatever remains of the page after the cap is
// discarded unrecorded. On error the issues retained so far are returned
// with it.
func (d *discovery) collectIssues(ctx context.Context, repo *Repository) ([]*Issue, error) {
	log := d.log.With("repo", repo.FullName())

	var retained []*Issue
	page := 1
	for {
		items, next, err := d.catalog.ListOpenIssues(ctx, repo.Owner, repo.Name, page)
		if err != nil {
			return retained, fmt.Errorf("list issues page %d: %w", page, err)
		}
		for _, gi := range items {
			if gi.IsPullRequest() {
				d.issueRejects.inc(RejectPullRequest)
				continue
			}
			issue := issueFromGitHub(repo.Key(), gi)
			if reason := d.rejectIssue(issue); reason != "" {
				d.issueRejects.inc(reason)
				continue
			}
			seen, err := d.store.Has(ctx, issue.Identity())
			if err != nil {
				return retained, fmt.Errorf("check %s: %w", issue.Identity(), err)
			}
			if seen {
				d.issueRejects.inc(RejectSeen)
				continue
			}
			err = d.store.Record(ctx, issue.Identity(), dedup.Metadata{
				RunID:      d.runID,
				Source:     repo.Key(),
				ObservedAt: d.now,
			})
			if err != nil {
				return retained, fmt.Errorf("record %s: %w", issue.Identity(), err)
			}
			retained = append(retained, issue)
			if len(retained) >= d.cfg.MaxIssuesPerRepo {
				log.Debug("issue cap reached", "retained", len(retained), "page", page)
				return retained, nil
			}
		}
		if next == 0 {
			log.Debug("issues exhausted", "retained", len(retained), "pages", page)
			return retained, nil
		}
		page = next
	}
}

// discoverIssues runs the issue phase, one unit per repository. Partial
// results of a failed unit are kept because they are already recorded.
func (d *discovery) discoverIssues(ctx context.Context, repos []*Repository) ([]Candidate, []Failure, pool.Summary) {
	units := make([]pool.Unit[[]*Issue], 0, len(repos))
	for _, repo := range repos {
		units = append(units, pool.Unit[[]*Issue]{
			Key: repo.Key(),
			Do: func(ctx context.Context) ([]*Issue, error) {
				return d.collectIssues(ctx, repo)
			},
		})
	}
	results := pool.Run(ctx, d.cfg.Workers, units, d.poolOpts()...)

	byKey := make(map[string]*Repository, len(repos))
	for _, r := range repos {
		byKey[r.Key()] = r
	}

	var (
		cands    []Candidate
		failures []Failure
	)
	for _, res := range results {
		if res.Err != nil {
			d.log.Warn("issue unit failed", "repo", res.Key, "error", res.Err, "kept", len(res.Value))
			failures = append(failures, Failure{
				Phase:   PhaseIssues,
				Unit:    res.Key,
				Kind:    failureKind(res.Err),
				Message: res.Err.Error(),
			})
		}
		for _, issue := range res.Value {
			repo, ok := byKey[issue.RepoKey]
			if !ok {
				d.issueRejects.inc(RejectOrphan)
				continue
			}
			cands = append(cands, Candidate{Issue: issue, Repo: repo})
		}
	}
	return cands, failures, pool.Summarize(results)
}
