package radar

import (
	"cmp"
	"math"
	"time"

	"golang.org/x/exp/slices"
)

// Weights are the relative importance of each scoring factor.
type Weights struct {
	Label      float64 `yaml:"label" json:"label"`
	Age        float64 `yaml:"age" json:"age"`
	Engagement float64 `yaml:"engagement" json:"engagement"`
	Health     float64 `yaml:"health" json:"health"`
	Assessment float64 `yaml:"assessment" json:"assessment"`
}

// ScoringConfig holds the tunable curves of the scoring engine.
type ScoringConfig struct {
	// LabelTiers is ordered best first. An issue scores by the best tier
	// any of its labels belongs to.
	LabelTiers [][]string `yaml:"label_tiers"`

	// MinAgeDays is where the age curve starts rising. It is copied from
	// the issue age filter.
	MinAgeDays      float64 `yaml:"-"`
	SweetSpotDays   float64 `yaml:"sweet_spot_days"`
	AgeHalfLifeDays float64 `yaml:"age_half_life_days"`

	// EngagementHalf is the comment+reaction count that scores 0.5.
	EngagementHalf float64 `yaml:"engagement_half"`

	// StarHalf is the star count that scores 0.5 on the star half of
	// health.
	StarHalf           float64 `yaml:"star_half"`
	RecentActivityDays float64 `yaml:"recent_activity_days"`
	StarWeight         float64 `yaml:"star_weight"`

	Weights Weights `yaml:"weights"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		LabelTiers: [][]string{
			{"good first issue", "good-first-issue", "beginner", "easy"},
			{"bug"},
			{"enhancement", "feature"},
			{"help wanted"},
		},
		MinAgeDays:         1,
		SweetSpotDays:      30,
		AgeHalfLifeDays:    90,
		EngagementHalf:     5,
		StarHalf:           500,
		RecentActivityDays: 30,
		StarWeight:         0.7,
		Weights: Weights{
			Label:      0.30,
			Age:        0.15,
			Engagement: 0.20,
			Health:     0.15,
			Assessment: 0.20,
		},
	}
}

// Score is the composite priority of an issue plus its normalized factors.
type Score struct {
	Total      float64 `json:"total"`
	Label      float64 `json:"label"`
	Age        float64 `json:"age"`
	Engagement float64 `json:"engagement"`
	Health     float64 `json:"health"`
	// Assessment is nil when no assessment was available.
	Assessment *float64 `json:"assessment,omitempty"`
}

type ScoreInput struct {
	Issue      *Issue
	Repo       *Repository
	Assessment *Assessment
	Now        time.Time
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func saturate(x, half float64) float64 {
	if x <= 0 {
		return 0
	}
	if half <= 0 {
		return 1
	}
	return x / (x + half)
}

func labelScore(issue *Issue, tiers [][]string) float64 {
	n := len(tiers)
	for i, tier := range tiers {
		if issue.HasLabel(tier...) {
			return float64(n-i) / float64(n)
		}
	}
	return 0
}

// ageScore rises linearly up to the sweet spot, then halves every
// half-life.
func ageScore(days float64, cfg ScoringConfig) float64 {
	if days < cfg.MinAgeDays {
		return 0
	}
	if days <= cfg.SweetSpotDays {
		span := cfg.SweetSpotDays - cfg.MinAgeDays
		if span <= 0 {
			return 1
		}
		return clamp01((days - cfg.MinAgeDays) / span)
	}
	if cfg.AgeHalfLifeDays <= 0 {
		return 1
	}
	return math.Pow(0.5, (days-cfg.SweetSpotDays)/cfg.AgeHalfLifeDays)
}

func healthScore(repo *Repository, now time.Time, cfg ScoringConfig) float64 {
	stars := saturate(float64(repo.Stars), cfg.StarHalf)
	var activity float64
	if !repo.PushedAt.IsZero() && cfg.RecentActivityDays > 0 {
		since := now.Sub(repo.PushedAt).Hours() / 24
		activity = clamp01(1 - since/cfg.RecentActivityDays)
	}
	w := clamp01(cfg.StarWeight)
	return w*stars + (1-w)*activity
}

func assessmentScore(a *Assessment) float64 {
	var d, c, f float64
	switch a.Difficulty {
	case DifficultyEasy:
		d = 1
	case DifficultyMedium:
		d = 0.5
	}
	switch a.Clarity {
	case ClarityClear:
		c = 1
	case ClarityPartial:
		c = 0.5
	}
	switch a.Feasibility {
	case FeasibilityHigh:
		f = 1
	case FeasibilityMedium:
		f = 0.5
	}
	return (d + c + f) / 3
}

// ComputeScore is a pure function of its input. Missing assessment drops
// that factor and renormalizes over the remaining weights.
func ComputeScore(in ScoreInput, cfg ScoringConfig) Score {
	age := float64(in.Issue.AgeDays(in.Now))
	s := Score{
		Label:      labelScore(in.Issue, cfg.LabelTiers),
		Age:        ageScore(age, cfg),
		Engagement: saturate(float64(in.Issue.Comments+in.Issue.Reactions), cfg.EngagementHalf),
		Health:     healthScore(in.Repo, in.Now, cfg),
	}

	w := cfg.Weights
	sum := w.Label*s.Label + w.Age*s.Age + w.Engagement*s.Engagement + w.Health*s.Health
	total := w.Label + w.Age + w.Engagement + w.Health
	if in.Assessment != nil {
		a := assessmentScore(in.Assessment)
		s.Assessment = &a
		sum += w.Assessment * a
		total += w.Assessment
	}
	if total > 0 {
		s.Total = sum / total
	}
	return s
}

// Rank scores every candidate and orders them by score, then older issue,
// then lower issue number, then repository key. The input is not modified.
func Rank(cands []Candidate, cfg ScoringConfig, now time.Time) []Candidate {
	ranked := make([]Candidate, len(cands))
	copy(ranked, cands)
	for i := range ranked {
		ranked[i].Score = ComputeScore(ScoreInput{
			Issue:      ranked[i].Issue,
			Repo:       ranked[i].Repo,
			Assessment: ranked[i].Assessment,
			Now:        now,
		}, cfg)
	}
	slices.SortFunc(ranked, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score.Total, a.Score.Total); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Issue.AgeDays(now), a.Issue.AgeDays(now)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Issue.Number, b.Issue.Number); c != 0 {
			return c
		}
		return cmp.Compare(a.Issue.RepoKey, b.Issue.RepoKey)
	})
	return ranked
}
