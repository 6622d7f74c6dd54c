package ghapi

import (
	"context"
	"fmt"

	"github.com/google/go-github/v59/github"
)

// maxPerPage is the largest page the REST API serves.
const maxPerPage = 100

// Page returns at most n items from a paginated list. A negative n reads
// every page.
func Page[T any](
	ctx context.Context,
	get func(context.Context, *github.ListOptions) ([]T, *github.Response, error),
	n int,
) ([]T, error) {
	var all []T
	if n == 0 {
		return all, nil
	}
	opt := &github.ListOptions{PerPage: maxPerPage}
	if n > 0 && n < maxPerPage {
		opt.PerPage = n
	}
	for {
		items, resp, err := get(ctx, opt)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", opt.Page, err)
		}
		for _, item := range items {
			all = append(all, item)
			if len(all) == n {
				return all, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}
