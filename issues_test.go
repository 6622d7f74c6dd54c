package radar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectIssue(t *testing.T) {
	t.Parallel()

	cfg := DefaultRunConfig()
	cfg.MinIssueAgeDays, cfg.MaxIssueAgeDays = 1, 365
	cfg.SkipAssigned = true
	cfg.ExcludeKeywords = []string{"Refactor"}
	d := newDiscovery(nil, dedup.NewMemory(), cfg)

	base := func() *Issue {
		return issueFromGitHub("acme/widgets", ghIssue(1, 30, "bug"))
	}
	require.Empty(t, d.rejectIssue(base()))

	tests := []struct {
		name   string
		mutate func(*Issue)
		want   string
	}{
		{"Label", func(i *Issue) { i.Labels = append(i.Labels, "WontFix") }, RejectLabel},
		{"TooNew", func(i *Issue) { i.CreatedAt = testNow.Add(-12 * time.Hour) }, RejectAge},
		{"TooOld", func(i *Issue) { i.CreatedAt = testNow.AddDate(0, 0, -366) }, RejectAge},
		{"Assigned", func(i *Issue) { i.Assignees = 1 }, RejectAssigned},
		{"KeywordTitle", func(i *Issue) { i.Title = "refactor the parser" }, RejectKeyword},
		{"KeywordBody", func(i *Issue) { i.Body = "Needs a big REFACTOR." }, RejectKeyword},
		{"ShortTitle", func(i *Issue) { i.Title = "Fix it   " }, RejectShortTitle},
		{"TitleAtMinimum", func(i *Issue) { i.Title = "Fix crash!" }, ""},
		{"ShortBody", func(i *Issue) { i.Body = "See title." }, RejectShortBody},
		{"EmptyBody", func(i *Issue) { i.Body = "" }, ""},
		{"BodyAtMinimum", func(i *Issue) { i.Body = "Steps are in title." + "!" }, ""},
		{"OldestAllowed", func(i *Issue) { i.CreatedAt = testNow.AddDate(0, 0, -365) }, ""},
		// The label check runs first.
		{"Order", func(i *Issue) {
			i.Labels = []string{"duplicate"}
			i.Assignees = 2
		}, RejectLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			i := base()
			tt.mutate(i)
			assert.Equal(t, tt.want, d.rejectIssue(i))
		})
	}

	cfg.SkipAssigned = false
	dAssigned := newDiscovery(nil, dedup.NewMemory(), cfg)
	i := base()
	i.Assignees = 3
	assert.Empty(t, dAssigned.rejectIssue(i))
}

func issuePage(from, n, ageDays int) []*github.Issue {
	page := make([]*github.Issue, 0, n)
	for i := from; i < from+n; i++ {
		page = append(page, ghIssue(i, ageDays))
	}
	return page
}

func TestCollectIssues_Cap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cat := newFakeCatalog()
	cat.add(ghRepo("acme/widgets", 200, "Go", 1),
		issuePage(1, 100, 10),
		issuePage(101, 100, 10),
	)
	store := dedup.NewMemory()

	cfg := DefaultRunConfig()
	cfg.MaxIssuesPerRepo = 5
	d := newDiscovery(cat, store, cfg)

	repo := repositoryFromGitHub(cat.repos["acme/widgets"], ModeList)
	issues, err := d.collectIssues(ctx, repo)
	require.NoError(t, err)
	require.Len(t, issues, 5)
	assert.Equal(t, 1, issues[0].Number)
	assert.Equal(t, 5, issues[4].Number)

	// Only the first page was fetched and only retained issues recorded.
	assert.Equal(t, 1, cat.count("issues:acme/widgets#1"))
	assert.Zero(t, cat.count("issues:acme/widgets#2"))
	assert.Equal(t, 5, store.Len())
	ok, err := store.Has(ctx, dedup.Issue("acme/widgets", 6))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectIssues_Pages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cat := newFakeCatalog()
	first := []*github.Issue{
		ghIssue(1, 10),
		ghPull(2, 10),
		ghIssue(3, 10, "wontfix"),
	}
	second := []*github.Issue{
		ghIssue(4, 0),
		ghIssue(5, 20),
	}
	cat.add(ghRepo("acme/widgets", 200, "Go", 1), first, second)

	store := dedup.NewMemory()
	require.NoError(t, store.Record(ctx, dedup.Issue("acme/widgets", 5), dedup.Metadata{}))

	d := newDiscovery(cat, store, DefaultRunConfig())
	repo := repositoryFromGitHub(cat.repos["acme/widgets"], ModeList)
	issues, err := d.collectIssues(ctx, repo)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Number)

	rejects := d.issueRejects.snapshot()
	assert.Equal(t, map[string]int{
		RejectPullRequest: 1,
		RejectLabel:       1,
		RejectAge:         1,
		RejectSeen:        1,
	}, rejects)

	// Pull requests are never recorded.
	ok, err := store.Has(ctx, dedup.Issue("acme/widgets", 2))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiscoverIssues_PartialResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cat := newFakeCatalog()
	cat.add(ghRepo("acme/a", 200, "Go", 1), issuePage(1, 3, 10), issuePage(4, 3, 10))
	cat.add(ghRepo("acme/b", 200, "Go", 1), issuePage(1, 2, 10))
	cat.errs["issues:acme/a#2"] = fmt.Errorf("page two: %w", errors.New("connection reset"))

	d := newDiscovery(cat, dedup.NewMemory(), DefaultRunConfig())
	repos := []*Repository{
		repositoryFromGitHub(cat.repos["acme/a"], ModeList),
		repositoryFromGitHub(cat.repos["acme/b"], ModeList),
	}
	cands, failures, summary := d.discoverIssues(ctx, repos)

	// acme/a failed on its second page but keeps the first.
	assert.Len(t, cands, 5)
	require.Len(t, failures, 1)
	assert.Equal(t, PhaseIssues, failures[0].Phase)
	assert.Equal(t, "acme/a", failures[0].Unit)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	for _, c := range cands {
		require.NotNil(t, c.Repo)
		assert.Equal(t, c.Repo.Key(), c.Issue.RepoKey)
	}
}
