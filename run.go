package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/coder/radar/ghapi"
	"github.com/coder/radar/pool"
	"github.com/google/uuid"
)

// QuotaProber reports catalog quota. *ghapi.Fetcher implements it.
type QuotaProber interface {
	Quota(ctx context.Context) (ghapi.QuotaStatus, error)
}

// Notifier delivers a finished report somewhere outside the process.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}

// Runner executes discovery runs. A Runner may be reused; each Run is
// independent.
type Runner struct {
	Log     *slog.Logger
	Catalog Catalog
	// Quota is optional. When Catalog also implements QuotaProber it is
	// used instead.
	Quota QuotaProber
	// Store, when set, is used instead of opening RunConfig.Store and is
	// not closed by the run.
	Store dedup.Store
	// Assessor is optional; without it ranking uses the other factors.
	Assessor  Assessor
	Notifiers []Notifier
	// Now is overridable for tests.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) prober() QuotaProber {
	if r.Quota != nil {
		return r.Quota
	}
	if q, ok := r.Catalog.(QuotaProber); ok {
		return q
	}
	return nil
}

// openStore opens the dedup store for one run. Failures are not fatal: the
// guard starts degraded instead.
func (r *Runner) openStore(ctx context.Context, log *slog.Logger, url string) (*dedup.Guard, func()) {
	if r.Store != nil {
		return dedup.NewGuard(log, r.Store, nil), func() {}
	}
	backend, err := dedup.Open(ctx, url)
	g := dedup.NewGuard(log, backend, err)
	return g, func() {
		if err := g.Close(); err != nil {
			log.Warn("close dedup store", "error", err)
		}
	}
}

// Run performs one discovery run. It returns an error only when the
// configuration is invalid or the catalog rejects our credentials; every
// other failure is listed in the report. A report is returned alongside a
// fatal authentication error so partial results are not lost.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
		Dispatch:  make(map[string]pool.Summary),
	}
	log = log.With("run", report.RunID)

	store, closeStore := r.openStore(ctx, log, cfg.Store)
	defer closeStore()

	d := &discovery{
		log:          log,
		catalog:      r.Catalog,
		store:        store,
		cfg:          cfg,
		now:          report.StartedAt,
		runID:        report.RunID,
		repoRejects:  newTally(),
		issueRejects: newTally(),
	}
	finish := func(err error) (*Report, error) {
		report.StoreDegraded = store.Degraded()
		report.RepoRejections = d.repoRejects.snapshot()
		report.IssueRejections = d.issueRejects.snapshot()
		report.FinishedAt = r.now()
		log.Info("run finished",
			"duration", report.Duration().Truncate(time.Millisecond).String(),
			"repositories", len(report.Repositories),
			"issues", len(report.Ranked),
			"failures", len(report.Failures),
			"store_degraded", report.StoreDegraded,
		)
		return report, err
	}

	if q := r.prober(); q != nil {
		status, err := q.Quota(ctx)
		switch {
		case errors.Is(err, ghapi.ErrAuthRejected):
			return finish(err)
		case err != nil:
			log.Warn("quota probe failed", "error", err)
			report.Failures = append(report.Failures, Failure{
				Phase: PhaseQuota, Unit: "rate_limit", Kind: failureKind(err), Message: err.Error(),
			})
		default:
			report.Quota = status
			log.Debug("quota", "core", status.Core.Remaining, "search", status.Search.Remaining)
		}
	}

	repos, failures, summary, err := d.discoverRepositories(ctx)
	report.Failures = append(report.Failures, failures...)
	report.Dispatch[PhaseRepositories] = summary
	if err != nil {
		return finish(fmt.Errorf("discover repositories: %w", err))
	}
	if err := authFailure(failures); err != nil {
		return finish(err)
	}
	repos, failures = d.recordRepositories(ctx, repos)
	report.Failures = append(report.Failures, failures...)
	report.Repositories = repos
	log.Info("repositories retained", "count", len(repos))

	cands, failures, summary := d.discoverIssues(ctx, repos)
	report.Failures = append(report.Failures, failures...)
	report.Dispatch[PhaseIssues] = summary
	if err := authFailure(failures); err != nil {
		report.Ranked = Rank(cands, cfg.scoring(), report.StartedAt)
		return finish(err)
	}

	ranked := Rank(cands, cfg.scoring(), report.StartedAt)
	if r.Assessor != nil && cfg.AssessTop > 0 && len(ranked) > 0 {
		ranked = r.assess(ctx, log, cfg, ranked, report)
	}
	report.Ranked = ranked
	report.Narration = Narrate(ranked)
	finish(nil)

	for _, n := range r.Notifiers {
		if err := n.Notify(ctx, report); err != nil {
			log.Warn("notify", "error", err)
		}
	}
	return report, nil
}

// assess fans the top candidates out to the assessor and re-ranks with the
// results. Failed assessments leave their candidate unassessed.
func (r *Runner) assess(ctx context.Context, log *slog.Logger, cfg RunConfig, ranked []Candidate, report *Report) []Candidate {
	n := min(cfg.AssessTop, len(ranked))
	units := make([]pool.Unit[*Assessment], 0, n)
	for _, c := range ranked[:n] {
		units = append(units, pool.Unit[*Assessment]{
			Key: c.Issue.Identity().Key,
			Do: func(ctx context.Context) (*Assessment, error) {
				return r.Assessor.Assess(ctx, c.Issue, c.Repo)
			},
		})
	}
	var opts []pool.Option
	if cfg.UnitTimeout > 0 {
		opts = append(opts, pool.WithTimeout(cfg.UnitTimeout))
	}
	results := pool.Run(ctx, cfg.Workers, units, opts...)
	report.Dispatch[PhaseAssessment] = pool.Summarize(results)

	assessed := make([]Candidate, len(ranked))
	copy(assessed, ranked)
	for _, res := range results {
		if res.Err != nil {
			log.Warn("assessment failed", "issue", res.Key, "error", res.Err)
			report.Failures = append(report.Failures, Failure{
				Phase:   PhaseAssessment,
				Unit:    res.Key,
				Kind:    failureKind(res.Err),
				Message: res.Err.Error(),
			})
			continue
		}
		assessed[res.Index].Assessment = res.Value
	}
	return Rank(assessed, cfg.scoring(), report.StartedAt)
}

func authFailure(failures []Failure) error {
	for _, f := range failures {
		if f.Kind == ghapi.KindAuth.String() {
			return fmt.Errorf("%s %s: %w", f.Phase, f.Unit, ghapi.ErrAuthRejected)
		}
	}
	return nil
}
