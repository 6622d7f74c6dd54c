package radar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/coder/radar/pool"
	"github.com/google/go-github/v59/github"
	"golang.org/x/exp/slices"
)

// Catalog is the subset of the catalog API discovery needs.
// *ghapi.Fetcher implements it.
type Catalog interface {
	SearchRepositories(ctx context.Context, query string, n int) ([]*github.Repository, error)
	GetRepository(ctx context.Context, owner, name string) (*github.Repository, error)
	ListOpenIssues(ctx context.Context, owner, name string, page int) ([]*github.Issue, int, error)
}

// discovery holds the state shared by the two crawl phases of one run.
type discovery struct {
	log     *slog.Logger
	catalog Catalog
	store   dedup.Store
	cfg     RunConfig
	now     time.Time
	runID   string

	repoRejects  *tally
	issueRejects *tally
}

func topicQuery(topic string, minStars, maxStars int) string {
	return fmt.Sprintf("topic:%s stars:%d..%d is:public archived:false", topic, minStars, maxStars)
}

func (d *discovery) poolOpts() []pool.Option {
	if d.cfg.UnitTimeout > 0 {
		return []pool.Option{pool.WithTimeout(d.cfg.UnitTimeout)}
	}
	return nil
}

func (d *discovery) repoUnits() ([]pool.Unit[[]*Repository], error) {
	var units []pool.Unit[[]*Repository]
	switch d.cfg.Mode {
	case ModeList:
		repos, err := resolveRepos(d.cfg.Repos, d.cfg.Lists)
		if err != nil {
			return nil, err
		}
		for _, full := range repos {
			owner, name, _ := strings.Cut(full, "/")
			units = append(units, pool.Unit[[]*Repository]{
				Key: full,
				Do: func(ctx context.Context) ([]*Repository, error) {
					gr, err := d.catalog.GetRepository(ctx, owner, name)
					if err != nil {
						return nil, err
					}
					return []*Repository{repositoryFromGitHub(gr, ModeList)}, nil
				},
			})
		}
	default:
		topics, err := resolveTopics(d.cfg.Topics, d.cfg.Categories)
		if err != nil {
			return nil, err
		}
		for _, topic := range topics {
			query := topicQuery(topic, d.cfg.MinStars, d.cfg.MaxStars)
			units = append(units, pool.Unit[[]*Repository]{
				Key: "topic:" + topic,
				Do: func(ctx context.Context) ([]*Repository, error) {
					found, err := d.catalog.SearchRepositories(ctx, query, d.cfg.ReposPerTopic)
					if err != nil {
						return nil, err
					}
					repos := make([]*Repository, 0, len(found))
					for _, gr := range found {
						repos = append(repos, repositoryFromGitHub(gr, topic))
					}
					return repos, nil
				},
			})
		}
	}
	return units, nil
}

// rejectRepo applies the static filters in order and returns the first
// failing reason, or "".
func (d *discovery) rejectRepo(r *Repository) string {
	if r.Stars < d.cfg.MinStars || r.Stars > d.cfg.MaxStars {
		return RejectStars
	}
	if len(d.cfg.Languages) > 0 && !slices.ContainsFunc(d.cfg.Languages, func(l string) bool {
		return strings.EqualFold(l, r.Language)
	}) {
		return RejectLanguage
	}
	if r.PushedAt.Before(d.now.AddDate(0, 0, -d.cfg.RecencyDays)) {
		return RejectStale
	}
	if r.OpenIssues < 1 {
		return RejectNoOpenIssues
	}
	if r.Archived || r.Disabled || !r.HasIssues {
		return RejectNotAccepting
	}
	return ""
}

// discoverRepositories runs the repository phase: fan out the search or
// lookup units, filter and deduplicate what they return, then order by
// stars and truncate to MaxRepos.
func (d *discovery) discoverRepositories(ctx context.Context) ([]*Repository, []Failure, pool.Summary, error) {
	units, err := d.repoUnits()
	if err != nil {
		return nil, nil, pool.Summary{}, err
	}
	results := pool.Run(ctx, d.cfg.Workers, units, d.poolOpts()...)

	var (
		failures []Failure
		retained []*Repository
		seenKeys = make(map[string]struct{})
		// checkErr is set once a store check fails, which with a guarded
		// store means the run was canceled. Later repositories are listed
		// as failures instead of being checked.
		checkErr error
	)
	for _, res := range results {
		if res.Err != nil {
			d.log.Warn("repository unit failed", "unit", res.Key, "error", res.Err)
			failures = append(failures, Failure{
				Phase:   PhaseRepositories,
				Unit:    res.Key,
				Kind:    failureKind(res.Err),
				Message: res.Err.Error(),
			})
			continue
		}
		for _, r := range res.Value {
			// The same repository can surface under several topics; only
			// the first observation counts.
			if _, dup := seenKeys[r.Key()]; dup {
				continue
			}
			seenKeys[r.Key()] = struct{}{}

			if reason := d.rejectRepo(r); reason != "" {
				d.repoRejects.inc(reason)
				continue
			}
			if !d.cfg.AllowReprocess {
				seen := false
				if checkErr == nil {
					seen, checkErr = d.store.Has(ctx, r.Identity())
				}
				if checkErr != nil {
					failures = append(failures, Failure{
						Phase:   PhaseRepositories,
						Unit:    r.Key(),
						Kind:    failureKind(checkErr),
						Message: fmt.Sprintf("check: %v", checkErr),
					})
					continue
				}
				if seen {
					d.repoRejects.inc(RejectSeen)
					continue
				}
			}
			retained = append(retained, r)
		}
	}

	slices.SortFunc(retained, func(a, b *Repository) int {
		if a.Stars != b.Stars {
			return b.Stars - a.Stars
		}
		return strings.Compare(a.Key(), b.Key())
	})
	if len(retained) > d.cfg.MaxRepos {
		for range retained[d.cfg.MaxRepos:] {
			d.repoRejects.inc(RejectOverRepoLimit)
		}
		retained = retained[:d.cfg.MaxRepos]
	}
	return retained, failures, pool.Summarize(results), nil
}

// recordRepositories marks retained repositories as seen and returns the
// ones recorded. It runs before any issue unit for those repositories is
// dispatched. Once a record fails, the rest are reported as failures and
// left out of issue discovery.
func (d *discovery) recordRepositories(ctx context.Context, repos []*Repository) ([]*Repository, []Failure) {
	var (
		recorded []*Repository
		failures []Failure
		err      error
	)
	for _, r := range repos {
		if err == nil {
			err = d.store.Record(ctx, r.Identity(), dedup.Metadata{
				RunID:      d.runID,
				Source:     r.FoundVia,
				ObservedAt: d.now,
			})
		}
		if err != nil {
			failures = append(failures, Failure{
				Phase:   PhaseRepositories,
				Unit:    r.Key(),
				Kind:    failureKind(err),
				Message: fmt.Sprintf("record: %v", err),
			})
			continue
		}
		recorded = append(recorded, r)
	}
	return recorded, failures
}
