package ghapi

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/ammario/tlru"
	"github.com/coder/retry"
	"github.com/google/go-github/v59/github"
	"golang.org/x/time/rate"
)

type Config struct {
	// CoreLowWater and SearchLowWater are the remaining-request counts at
	// which callers start waiting for the quota reset.
	CoreLowWater   int
	SearchLowWater int
	// MaxAttempts bounds tries of a call failing transiently.
	MaxAttempts int
	// AttemptTimeout bounds a single HTTP round trip.
	AttemptTimeout time.Duration
	// RequestsPerSecond paces all callers together. Zero disables pacing.
	RequestsPerSecond float64
	RetryFloor        time.Duration
	RetryCeil         time.Duration
	// RepoCacheTTL is how long explicit repository lookups are reused.
	RepoCacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		CoreLowWater:      100,
		SearchLowWater:    5,
		MaxAttempts:       3,
		AttemptTimeout:    30 * time.Second,
		RequestsPerSecond: 10,
		RetryFloor:        500 * time.Millisecond,
		RetryCeil:         10 * time.Second,
		RepoCacheTTL:      10 * time.Minute,
	}
}

// Fetcher wraps every catalog call with quota accounting, pacing, retry and
// error classification. It is safe for concurrent use.
type Fetcher struct {
	Log *slog.Logger

	client  *github.Client
	cfg     Config
	core    *bucket
	search  *bucket
	limiter *rate.Limiter

	repoCache *tlru.Cache[string, *github.Repository]
}

func NewFetcher(log *slog.Logger, client *github.Client, cfg Config) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.RetryFloor <= 0 {
		cfg.RetryFloor = def.RetryFloor
	}
	if cfg.RetryCeil < cfg.RetryFloor {
		cfg.RetryCeil = cfg.RetryFloor
	}
	if cfg.RepoCacheTTL <= 0 {
		cfg.RepoCacheTTL = def.RepoCacheTTL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Fetcher{
		Log:     log,
		client:  client,
		cfg:     cfg,
		core:    newBucket(log, "core", cfg.CoreLowWater),
		search:  newBucket(log, "search", cfg.SearchLowWater),
		limiter: rate.NewLimiter(limit, 1),
		repoCache: tlru.New[string](func(*github.Repository) int {
			return 1
		}, 4096),
	}
}

// Client returns the underlying GitHub client.
func (f *Fetcher) Client() *github.Client { return f.client }

func (f *Fetcher) jitter(ctx context.Context) bool {
	d := time.Duration(rand.Int63n(int64(f.cfg.RetryFloor)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// do runs call until it succeeds, fails permanently or runs out of
// attempts. Rate-limit failures wait for the reset and do not count as
// attempts. A nil bucket skips quota accounting.
func do[T any](
	ctx context.Context,
	f *Fetcher,
	op string,
	b *bucket,
	call func(context.Context) (T, *github.Response, error),
) (T, error) {
	var zero T
	ret := retry.New(f.cfg.RetryFloor, f.cfg.RetryCeil)
	attempts := 0
	for {
		if b != nil {
			if err := b.acquire(ctx); err != nil {
				return zero, err
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		actx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
		v, resp, err := call(actx)
		cancel()
		if b != nil && resp != nil {
			b.update(resp.Rate)
		}
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		e := classify(op, resp, err)
		switch e.Kind {
		case KindRateLimited:
			if b == nil {
				b = f.core
			}
			b.suspend(e.ResetAt)
			f.Log.Warn("rate limited",
				"op", op,
				"bucket", b.name,
				"reset_in", time.Until(e.ResetAt).Truncate(time.Second).String(),
			)
			continue
		case KindTransient:
			attempts++
			if attempts >= f.cfg.MaxAttempts {
				return zero, e
			}
			f.Log.Warn("retrying catalog call", "op", op, "attempt", attempts, "error", err)
			if !f.jitter(ctx) || !ret.Wait(ctx) {
				return zero, ctx.Err()
			}
			continue
		default:
			return zero, e
		}
	}
}

// Quota fetches the quota status endpoint, which does not count against the
// quota, and seeds both buckets from it.
func (f *Fetcher) Quota(ctx context.Context) (QuotaStatus, error) {
	limits, err := do(ctx, f, "get rate limits", nil,
		func(ctx context.Context) (*github.RateLimits, *github.Response, error) {
			return f.client.RateLimit.Get(ctx)
		},
	)
	if err != nil {
		return QuotaStatus{}, err
	}
	if limits.Core != nil {
		f.core.update(*limits.Core)
	}
	if limits.Search != nil {
		f.search.update(*limits.Search)
	}
	return f.QuotaSnapshot(), nil
}

// QuotaSnapshot returns the locally tracked bucket state without a call.
func (f *Fetcher) QuotaSnapshot() QuotaStatus {
	return QuotaStatus{
		Core:   f.core.snapshot(),
		Search: f.search.snapshot(),
	}
}

// SearchRepositories returns up to n repositories matching query, most
// starred first.
func (f *Fetcher) SearchRepositories(ctx context.Context, query string, n int) ([]*github.Repository, error) {
	return Page(ctx,
		func(ctx context.Context, opt *github.ListOptions) ([]*github.Repository, *github.Response, error) {
			var resp *github.Response
			repos, err := do(ctx, f, "search repositories", f.search,
				func(ctx context.Context) ([]*github.Repository, *github.Response, error) {
					res, r, err := f.client.Search.Repositories(ctx, query, &github.SearchOptions{
						Sort:        "stars",
						Order:       "desc",
						ListOptions: *opt,
					})
					resp = r
					if err != nil {
						return nil, r, err
					}
					if err := validateRepos(res.Repositories); err != nil {
						return nil, r, err
					}
					return res.Repositories, r, nil
				},
			)
			return repos, resp, err
		},
		n,
	)
}

// GetRepository fetches a single repository by owner and name. Results are
// cached for RepoCacheTTL.
func (f *Fetcher) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	key := strings.ToLower(owner + "/" + name)
	return f.repoCache.Do(key, func() (*github.Repository, error) {
		return do(ctx, f, "get repository "+key, f.core,
			func(ctx context.Context) (*github.Repository, *github.Response, error) {
				repo, resp, err := f.client.Repositories.Get(ctx, owner, name)
				if err != nil {
					return nil, resp, err
				}
				if err := validateRepos([]*github.Repository{repo}); err != nil {
					return nil, resp, err
				}
				return repo, resp, nil
			},
		)
	}, f.cfg.RepoCacheTTL)
}

// ListOpenIssues returns one page of open issues (pull requests included)
// and the number of the next page, zero when exhausted.
func (f *Fetcher) ListOpenIssues(ctx context.Context, owner, name string, page int) ([]*github.Issue, int, error) {
	var next int
	issues, err := do(ctx, f, fmt.Sprintf("list issues %s/%s page %d", owner, name, page), f.core,
		func(ctx context.Context) ([]*github.Issue, *github.Response, error) {
			issues, resp, err := f.client.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
				State: "open",
				ListOptions: github.ListOptions{
					Page:    page,
					PerPage: maxPerPage,
				},
			})
			if err != nil {
				return nil, resp, err
			}
			for _, issue := range issues {
				if issue.GetNumber() == 0 || issue.GetTitle() == "" {
					return nil, resp, fmt.Errorf("%w: issue without number or title", ErrMalformed)
				}
			}
			next = resp.NextPage
			return issues, resp, nil
		},
	)
	if err != nil {
		return nil, 0, err
	}
	return issues, next, nil
}

func validateRepos(repos []*github.Repository) error {
	for _, r := range repos {
		if r == nil || r.GetName() == "" || r.GetOwner().GetLogin() == "" {
			return fmt.Errorf("%w: repository without owner or name", ErrMalformed)
		}
	}
	return nil
}
