package radar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is the fixed clock of every discovery test.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ghRepo(full string, stars int, lang string, pushedDaysAgo int) *github.Repository {
	owner, name, _ := strings.Cut(full, "/")
	return &github.Repository{
		Owner:           &github.User{Login: github.String(owner)},
		Name:            github.String(name),
		HTMLURL:         github.String("https://github.com/" + full),
		StargazersCount: github.Int(stars),
		Language:        github.String(lang),
		PushedAt:        &github.Timestamp{Time: testNow.AddDate(0, 0, -pushedDaysAgo)},
		OpenIssuesCount: github.Int(10),
		HasIssues:       github.Bool(true),
	}
}

func ghIssue(number int, ageDays int, labels ...string) *github.Issue {
	gi := &github.Issue{
		Number:    github.Int(number),
		ID:        github.Int64(int64(number) * 1000),
		Title:     github.String(fmt.Sprintf("Crash when saving file %d", number)),
		Body:      github.String("Something is broken."),
		State:     github.String("open"),
		CreatedAt: &github.Timestamp{Time: testNow.AddDate(0, 0, -ageDays)},
		UpdatedAt: &github.Timestamp{Time: testNow},
	}
	for _, l := range labels {
		gi.Labels = append(gi.Labels, &github.Label{Name: github.String(l)})
	}
	return gi
}

func ghPull(number int, ageDays int) *github.Issue {
	gi := ghIssue(number, ageDays)
	gi.PullRequestLinks = &github.PullRequestLinks{URL: github.String("https://example.com/pull")}
	return gi
}

// fakeCatalog serves canned repositories and issue pages.
type fakeCatalog struct {
	mu sync.Mutex

	// byTopic maps a topic to its search results.
	byTopic map[string][]*github.Repository
	// repos maps a lowercase owner/name to its repository.
	repos map[string]*github.Repository
	// pages maps a lowercase owner/name to its issue pages.
	pages map[string][][]*github.Issue
	// errs maps a unit ("topic:x", "repo:owner/name" or
	// "issues:owner/name#page") to the error it fails with.
	errs map[string]error

	calls map[string]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		byTopic: make(map[string][]*github.Repository),
		repos:   make(map[string]*github.Repository),
		pages:   make(map[string][][]*github.Issue),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

// add registers a repository for list lookups with the given issue pages.
func (f *fakeCatalog) add(r *github.Repository, pages ...[]*github.Issue) {
	key := strings.ToLower(r.GetOwner().GetLogin() + "/" + r.GetName())
	f.repos[key] = r
	f.pages[key] = pages
}

func (f *fakeCatalog) call(unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[unit]++
	return f.errs[unit]
}

func (f *fakeCatalog) count(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[unit]
}

func (f *fakeCatalog) SearchRepositories(ctx context.Context, query string, n int) ([]*github.Repository, error) {
	topic := strings.TrimPrefix(strings.Fields(query)[0], "topic:")
	if err := f.call("topic:" + topic); err != nil {
		return nil, err
	}
	found := f.byTopic[topic]
	if len(found) > n {
		found = found[:n]
	}
	return found, nil
}

func (f *fakeCatalog) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	key := strings.ToLower(owner + "/" + name)
	if err := f.call("repo:" + key); err != nil {
		return nil, err
	}
	r, ok := f.repos[key]
	if !ok {
		return nil, fmt.Errorf("%s not found", key)
	}
	return r, nil
}

func (f *fakeCatalog) ListOpenIssues(ctx context.Context, owner, name string, page int) ([]*github.Issue, int, error) {
	key := strings.ToLower(owner + "/" + name)
	if err := f.call(fmt.Sprintf("issues:%s#%d", key, page)); err != nil {
		return nil, 0, err
	}
	pages := f.pages[key]
	if page < 1 || page > len(pages) {
		return nil, 0, nil
	}
	next := 0
	if page < len(pages) {
		next = page + 1
	}
	return pages[page-1], next, nil
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	llm, ok := CategoryTopics("LLM")
	require.True(t, ok)
	require.NotEmpty(t, llm)

	topics, err := resolveTopics([]string{llm[0], "custom", "Custom"}, []string{"llm"})
	require.NoError(t, err)
	assert.Equal(t, llm[0], topics[0])
	assert.Equal(t, "custom", topics[1])
	assert.Len(t, topics, len(llm)+1)

	_, err = resolveTopics(nil, []string{"no-such-category"})
	require.Error(t, err)
}

func TestResolveRepos(t *testing.T) {
	t.Parallel()

	for _, name := range RepoLists() {
		repos, err := resolveRepos(nil, []string{name})
		require.NoError(t, err)
		assert.NotEmpty(t, repos, name)
	}

	repos, err := resolveRepos([]string{"a/b", "A/B", " c/d "}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "c/d"}, repos)

	_, err = resolveRepos(nil, []string{"nope"})
	require.Error(t, err)
}

func TestCategoriesSorted(t *testing.T) {
	t.Parallel()

	assert.IsNonDecreasing(t, Categories())
	assert.IsNonDecreasing(t, RepoLists())
}
