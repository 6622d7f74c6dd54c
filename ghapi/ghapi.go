// Package ghapi is the rate-limit-aware gateway to the GitHub REST API.
package ghapi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/beatlabs/github-auth/app"
	"github.com/google/go-github/v59/github"
)

// NewTokenClient returns a client authenticated with a personal access
// token. An empty token yields an anonymous client with a much smaller
// quota.
func NewTokenClient(token string) *github.Client {
	client := github.NewClient(nil)
	if token == "" {
		return client
	}
	return client.WithAuthToken(token)
}

// NewAppClient returns a client acting as a GitHub App installation. When
// installID is empty the first installation of the app is used.
func NewAppClient(ctx context.Context, cfg *app.Config, installID string) (*github.Client, error) {
	if installID == "" {
		id, err := FirstInstallID(ctx, cfg)
		if err != nil {
			return nil, err
		}
		installID = strconv.FormatInt(id, 10)
	}
	instConfig, err := cfg.InstallationConfig(installID)
	if err != nil {
		return nil, fmt.Errorf("get installation config: %w", err)
	}
	return github.NewClient(instConfig.Client(ctx)), nil
}

// FirstInstallID returns the ID of the first installation of the app.
func FirstInstallID(ctx context.Context, cfg *app.Config) (int64, error) {
	client := github.NewClient(cfg.Client())
	installations, err := Page(
		ctx,
		func(ctx context.Context, opt *github.ListOptions) ([]*github.Installation, *github.Response, error) {
			return client.Apps.ListInstallations(ctx, opt)
		},
		1,
	)
	if err != nil {
		return 0, fmt.Errorf("list installations: %w", err)
	}
	if len(installations) == 0 {
		return 0, fmt.Errorf("app has no installations")
	}
	return installations[0].GetID(), nil
}

// InstallIDForRepo returns the installation ID of the app on a repository.
func InstallIDForRepo(ctx context.Context, cfg *app.Config, owner, repo string) (int64, error) {
	client := github.NewClient(cfg.Client())
	inst, _, err := client.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return 0, fmt.Errorf("find installation for %s/%s: %w", owner, repo, err)
	}
	return inst.GetID(), nil
}
