package radar

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigInvalid is returned, wrapping the individual field errors, when a
// RunConfig cannot be used. It is detected before any network activity.
var ErrConfigInvalid = errors.New("invalid run configuration")

// Discovery modes.
const (
	ModeTopics = "topics"
	ModeList   = "list"
)

// RunConfig is the immutable input of a run.
type RunConfig struct {
	Mode string `yaml:"mode"`

	// Topics mode.
	Topics        []string `yaml:"topics"`
	Categories    []string `yaml:"categories"`
	ReposPerTopic int      `yaml:"repos_per_topic"`

	// List mode.
	Repos []string `yaml:"repos"`
	Lists []string `yaml:"lists"`

	MinStars       int      `yaml:"min_stars"`
	MaxStars       int      `yaml:"max_stars"`
	Languages      []string `yaml:"languages"`
	RecencyDays    int      `yaml:"recency_days"`
	MaxRepos       int      `yaml:"max_repos"`
	AllowReprocess bool     `yaml:"allow_reprocess"`

	DisqualifyingLabels []string `yaml:"disqualifying_labels"`
	MinIssueAgeDays     int      `yaml:"min_issue_age_days"`
	MaxIssueAgeDays     int      `yaml:"max_issue_age_days"`
	MaxIssuesPerRepo    int      `yaml:"max_issues_per_repo"`
	SkipAssigned        bool     `yaml:"skip_assigned"`
	ExcludeKeywords     []string `yaml:"exclude_keywords"`
	// MinTitleLength and MinBodyLength are in characters. An empty body
	// passes; a present but shorter one does not.
	MinTitleLength int `yaml:"min_title_length"`
	MinBodyLength  int `yaml:"min_body_length"`

	Workers     int           `yaml:"workers"`
	UnitTimeout time.Duration `yaml:"unit_timeout"`
	// AssessTop is how many of the best candidates get an assessment.
	AssessTop int `yaml:"assess_top"`

	Scoring ScoringConfig `yaml:"scoring"`

	// Store is the dedup store URL.
	Store string `yaml:"store"`
	// DiscordWebhook receives the ranked list when set.
	DiscordWebhook string `yaml:"discord_webhook"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Mode:          ModeTopics,
		Categories:    []string{"llm"},
		ReposPerTopic: 50,
		MinStars:      10,
		MaxStars:      10000,
		Languages:     []string{"Python", "JavaScript", "TypeScript", "Go", "Rust", "Java"},
		RecencyDays:   180,
		MaxRepos:      50,
		DisqualifyingLabels: []string{
			"wontfix",
			"invalid",
			"duplicate",
			"question",
			"discussion",
			"needs-design",
			"breaking-change",
			"major",
			"epic",
			"tracking",
		},
		MinIssueAgeDays:  1,
		MaxIssueAgeDays:  365,
		MaxIssuesPerRepo: 20,
		MinTitleLength:   10,
		MinBodyLength:    20,
		Workers:          5,
		UnitTimeout:      5 * time.Minute,
		AssessTop:        10,
		Scoring:          DefaultScoringConfig(),
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, leaving unset
// variables untouched.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// LoadRunConfig reads a YAML file over the defaults. Fields absent from the
// file keep their default values.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	// The default category only applies when the file names no sources.
	cfg.Categories = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if len(cfg.Topics)+len(cfg.Categories)+len(cfg.Repos)+len(cfg.Lists) == 0 {
		cfg.Categories = DefaultRunConfig().Categories
	}
	cfg.Store = expandEnvVars(cfg.Store)
	cfg.DiscordWebhook = expandEnvVars(cfg.DiscordWebhook)
	return cfg, nil
}

// FieldError is one problem with a RunConfig.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate returns nil or an error wrapping ErrConfigInvalid and every
// FieldError found.
func (c *RunConfig) Validate() error {
	var errs []error
	add := func(field, msg string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(msg, args...)})
	}

	switch c.Mode {
	case ModeTopics:
		if _, err := resolveTopics(c.Topics, c.Categories); err != nil {
			add("categories", "%v", err)
		} else if len(c.Topics)+len(c.Categories) == 0 {
			add("topics", "at least one topic or category is required")
		}
		if c.ReposPerTopic <= 0 {
			add("repos_per_topic", "must be positive")
		}
	case ModeList:
		repos, err := resolveRepos(c.Repos, c.Lists)
		if err != nil {
			add("lists", "%v", err)
		} else if len(repos) == 0 {
			add("repos", "at least one repository or list is required")
		}
		for _, r := range repos {
			owner, name, ok := strings.Cut(r, "/")
			if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
				add("repos", "%q is not owner/name", r)
			}
		}
	default:
		add("mode", "must be %q or %q, got %q", ModeTopics, ModeList, c.Mode)
	}

	if c.MinStars < 0 {
		add("min_stars", "must not be negative")
	}
	if c.MaxStars < c.MinStars {
		add("max_stars", "must be at least min_stars (%d)", c.MinStars)
	}
	if c.RecencyDays <= 0 {
		add("recency_days", "must be positive")
	}
	if c.MaxRepos <= 0 {
		add("max_repos", "must be positive")
	}
	if c.MinIssueAgeDays < 0 {
		add("min_issue_age_days", "must not be negative")
	}
	if c.MaxIssueAgeDays < c.MinIssueAgeDays {
		add("max_issue_age_days", "must be at least min_issue_age_days (%d)", c.MinIssueAgeDays)
	}
	if c.MaxIssuesPerRepo <= 0 {
		add("max_issues_per_repo", "must be positive")
	}
	if c.MinTitleLength < 0 {
		add("min_title_length", "must not be negative")
	}
	if c.MinBodyLength < 0 {
		add("min_body_length", "must not be negative")
	}
	if c.Workers <= 0 {
		add("workers", "must be positive")
	}
	if c.UnitTimeout < 0 {
		add("unit_timeout", "must not be negative")
	}
	if c.AssessTop < 0 {
		add("assess_top", "must not be negative")
	}

	s := c.Scoring
	w := s.Weights
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"label", w.Label},
		{"age", w.Age},
		{"engagement", w.Engagement},
		{"health", w.Health},
		{"assessment", w.Assessment},
	} {
		if f.v < 0 {
			add("scoring.weights."+f.name, "must not be negative")
		}
	}
	if w.Label+w.Age+w.Engagement+w.Health <= 0 {
		add("scoring.weights", "at least one non-assessment weight must be positive")
	}
	if s.SweetSpotDays < float64(c.MinIssueAgeDays) {
		add("scoring.sweet_spot_days", "must be at least min_issue_age_days")
	}
	if s.AgeHalfLifeDays <= 0 {
		add("scoring.age_half_life_days", "must be positive")
	}
	if s.EngagementHalf <= 0 {
		add("scoring.engagement_half", "must be positive")
	}
	if s.StarHalf <= 0 {
		add("scoring.star_half", "must be positive")
	}
	if s.RecentActivityDays <= 0 {
		add("scoring.recent_activity_days", "must be positive")
	}
	if s.StarWeight < 0 || s.StarWeight > 1 {
		add("scoring.star_weight", "must be between 0 and 1")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
}

// scoring returns the scoring config with run-derived fields filled in.
func (c *RunConfig) scoring() ScoringConfig {
	s := c.Scoring
	s.MinAgeDays = float64(c.MinIssueAgeDays)
	return s
}
