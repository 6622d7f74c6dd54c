package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/beatlabs/github-auth/app"
	appkey "github.com/beatlabs/github-auth/key"
	"github.com/coder/radar"
	"github.com/coder/radar/discord"
	"github.com/coder/radar/ghapi"
	"github.com/coder/radar/llm"
	"github.com/coder/serpent"
	"github.com/google/go-github/v59/github"
	"github.com/joho/godotenv"
	"github.com/jussi-kalliokoski/slogdriver"
	"github.com/lmittmann/tint"
)

func newLogger() *slog.Logger {
	gcpProjectID, err := metadata.ProjectID()
	if err != nil {
		logOpts := &tint.Options{
			AddSource:  true,
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen + " 05.999",
		}
		return slog.New(tint.NewHandler(os.Stderr, logOpts))
	}

	return slog.New(
		slogdriver.NewHandler(
			os.Stderr,
			slogdriver.Config{
				ProjectID: gcpProjectID,
				Level:     slog.LevelDebug,
			},
		),
	)
}

type rootCmd struct {
	githubToken  string
	appID        string
	appPEMFile   string
	appPEMEnv    string
	appInstallID string
	appRepo      string

	configPath     string
	store          string
	discordWebhook string

	llmProvider  string
	llmModel     string
	openAIKey    string
	anthropicKey string
	geminiKey    string
}

func (r *rootCmd) appConfig() (*app.Config, error) {
	var (
		err    error
		appKey *rsa.PrivateKey
	)
	if r.appPEMEnv != "" {
		appKey, err = appkey.Parse([]byte(r.appPEMEnv))
		if err != nil {
			return nil, fmt.Errorf("parse app key: %w", err)
		}
	} else {
		appKey, err = appkey.FromFile(r.appPEMFile)
		if err != nil {
			return nil, fmt.Errorf("load app key: %w", err)
		}
	}

	appConfig, err := app.NewConfig(r.appID, appKey)
	if err != nil {
		return nil, fmt.Errorf("create app config: %w", err)
	}

	return appConfig, nil
}

// githubClient prefers a token, then GitHub App credentials, and falls back
// to anonymous access.
func (r *rootCmd) githubClient(ctx context.Context, log *slog.Logger) (*github.Client, error) {
	if token := strings.TrimSpace(r.githubToken); token != "" {
		return ghapi.NewTokenClient(token), nil
	}
	if r.appID == "" {
		log.Warn("no GitHub credentials configured, using anonymous access")
		return ghapi.NewTokenClient(""), nil
	}

	appConfig, err := r.appConfig()
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}
	installID := r.appInstallID
	if installID == "" && r.appRepo != "" {
		owner, name, ok := strings.Cut(r.appRepo, "/")
		if !ok {
			return nil, fmt.Errorf("app-repo must be owner/name, got %q", r.appRepo)
		}
		id, err := ghapi.InstallIDForRepo(ctx, appConfig, owner, name)
		if err != nil {
			return nil, err
		}
		installID = strconv.FormatInt(id, 10)
	}
	return ghapi.NewAppClient(ctx, appConfig, installID)
}

func (r *rootCmd) fetcher(ctx context.Context, log *slog.Logger) (*ghapi.Fetcher, error) {
	client, err := r.githubClient(ctx, log)
	if err != nil {
		return nil, err
	}
	return ghapi.NewFetcher(log, client, ghapi.DefaultConfig()), nil
}

// runConfig loads the YAML file, if any, and applies global overrides.
func (r *rootCmd) runConfig() (radar.RunConfig, error) {
	cfg := radar.DefaultRunConfig()
	if r.configPath != "" {
		var err error
		cfg, err = radar.LoadRunConfig(r.configPath)
		if err != nil {
			return cfg, err
		}
	}
	if r.store != "" {
		cfg.Store = r.store
	}
	if r.discordWebhook != "" {
		cfg.DiscordWebhook = r.discordWebhook
	}
	return cfg, nil
}

// llmConfig picks the provider. An empty provider selects the first one
// with a key; "none" disables assessment.
func (r *rootCmd) llmConfig() (llm.Config, bool, error) {
	keys := map[string]string{
		"openai":    r.openAIKey,
		"anthropic": r.anthropicKey,
		"gemini":    r.geminiKey,
	}
	provider := strings.ToLower(strings.TrimSpace(r.llmProvider))
	switch provider {
	case "none":
		return llm.Config{}, false, nil
	case "":
		for _, name := range []string{"openai", "anthropic", "gemini"} {
			if keys[name] != "" {
				provider = name
				break
			}
		}
		if provider == "" {
			return llm.Config{}, false, nil
		}
	}
	key, ok := keys[provider]
	if !ok {
		return llm.Config{}, false, fmt.Errorf("unknown llm provider %q", provider)
	}
	if key == "" {
		return llm.Config{}, false, fmt.Errorf("llm provider %q selected but its API key is not set", provider)
	}
	return llm.Config{
		Provider: provider,
		APIKey:   strings.TrimSpace(key),
		Model:    r.llmModel,
	}, true, nil
}

// runner wires the fetcher, assessor and notifiers for cfg.
func (r *rootCmd) runner(ctx context.Context, log *slog.Logger, cfg radar.RunConfig) (*radar.Runner, *ghapi.Fetcher, error) {
	fetcher, err := r.fetcher(ctx, log)
	if err != nil {
		return nil, nil, fmt.Errorf("github: %w", err)
	}
	runner := &radar.Runner{
		Log:     log,
		Catalog: fetcher,
		Quota:   fetcher,
	}

	llmCfg, ok, err := r.llmConfig()
	if err != nil {
		return nil, nil, err
	}
	if ok {
		provider, err := llm.New(ctx, log, llmCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("llm: %w", err)
		}
		log.Info("assessing issues", "provider", provider.Name())
		runner.Assessor = &radar.LLMAssessor{Log: log, Provider: provider}
	} else {
		log.Info("no llm provider configured, ranking without assessment")
	}

	if cfg.DiscordWebhook != "" {
		runner.Notifiers = append(runner.Notifiers, &discord.Webhook{URL: cfg.DiscordWebhook})
	}
	return runner, fetcher, nil
}

func (r *rootCmd) options() serpent.OptionSet {
	return serpent.OptionSet{
		{
			Flag:        "config",
			Env:         "RADAR_CONFIG",
			Description: "Path to a YAML run configuration.",
			Value:       serpent.StringOf(&r.configPath),
		},
		{
			Flag:        "store",
			Env:         "RADAR_STORE",
			Description: "Dedup store URL (sqlite path, memory:, redis://, postgres://, bigquery://project/dataset/table).",
			Value:       serpent.StringOf(&r.store),
		},
		{
			Flag:        "app-id",
			Env:         "GITHUB_APP_ID",
			Description: "GitHub App ID. Used when no token is set.",
			Value:       serpent.StringOf(&r.appID),
		},
		{
			Flag:        "app-pem-file",
			Default:     "./app.pem",
			Description: "Path to the GitHub App PEM file.",
			Value:       serpent.StringOf(&r.appPEMFile),
		},
		{
			Flag:        "app-install-id",
			Description: "GitHub App installation to act as. Defaults to the first installation.",
			Value:       serpent.StringOf(&r.appInstallID),
		},
		{
			Flag:        "app-repo",
			Description: "Act as the installation that covers this owner/name repository.",
			Value:       serpent.StringOf(&r.appRepo),
		},
		{
			Flag:        "llm-provider",
			Env:         "RADAR_LLM_PROVIDER",
			Description: "openai, anthropic, gemini or none. Empty picks the first provider with a key.",
			Value:       serpent.StringOf(&r.llmProvider),
		},
		{
			Flag:        "llm-model",
			Env:         "RADAR_LLM_MODEL",
			Description: "Model name. Empty uses the provider default.",
			Value:       serpent.StringOf(&r.llmModel),
		},
		// SECRETS: only configurable via environment variables.
		{
			Env:         "GITHUB_TOKEN",
			Description: "GitHub personal access token.",
			Value:       serpent.StringOf(&r.githubToken),
		},
		{
			Env:         "GITHUB_APP_PEM",
			Description: "APP PEM in raw form.",
			Value:       serpent.StringOf(&r.appPEMEnv),
		},
		{
			Env:         "OPENAI_API_KEY",
			Description: "OpenAI API key.",
			Value:       serpent.StringOf(&r.openAIKey),
		},
		{
			Env:         "ANTHROPIC_API_KEY",
			Description: "Anthropic API key.",
			Value:       serpent.StringOf(&r.anthropicKey),
		},
		{
			Env:         "GEMINI_API_KEY",
			Description: "Gemini API key.",
			Value:       serpent.StringOf(&r.geminiKey),
		},
		{
			Env:         "DISCORD_WEBHOOK_URL",
			Description: "Discord webhook that receives the ranked list.",
			Value:       serpent.StringOf(&r.discordWebhook),
		},
	}
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var root rootCmd
	cmd := &serpent.Command{
		Use:   "radar",
		Short: "radar finds approachable open issues in active GitHub repositories",
		Children: []*serpent.Command{
			root.runCmd(),
			root.serveCmd(),
			root.quotaCmd(),
			root.listsCmd(),
		},
		Handler: func(inv *serpent.Invocation) error {
			return fmt.Errorf("missing command, see --help")
		},
		Options: root.options(),
	}

	err := cmd.Invoke().WithOS().Run()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
