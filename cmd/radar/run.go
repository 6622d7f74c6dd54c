package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/coder/radar"
	"github.com/coder/serpent"
	"github.com/fatih/color"
	"golang.org/x/exp/maps"
)

type KV[Key any, Value any] struct {
	Key   Key
	Value Value
}

func topN(m map[string]int, n int) []KV[string, int] {
	var kvs []KV[string, int]
	for k, v := range m {
		kvs = append(kvs, KV[string, int]{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].Value != kvs[j].Value {
			return kvs[i].Value > kvs[j].Value
		}
		return kvs[i].Key < kvs[j].Key
	})
	if len(kvs) < n {
		n = len(kvs)
	}
	return kvs[:n]
}

func (kv KV[Key, Value]) String() string {
	return fmt.Sprintf("%v: %v", kv.Key, kv.Value)
}

func shortTitle(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// printReport writes a human summary of report to w.
func printReport(w io.Writer, report *radar.Report, top int) error {
	bold := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", bold(fmt.Sprintf("=== radar run %s ===", report.RunID)))

	twr := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(twr, "Duration:\t%s\n", report.Duration().Truncate(time.Millisecond))
	fmt.Fprintf(twr, "Repositories:\t%d\n", len(report.Repositories))
	fmt.Fprintf(twr, "Issues:\t%d\n", len(report.Ranked))
	fmt.Fprintf(twr, "Quota:\tcore %d/%d, search %d/%d\n",
		report.Quota.Core.Remaining, report.Quota.Core.Limit,
		report.Quota.Search.Remaining, report.Quota.Search.Limit,
	)
	fmt.Fprintf(twr, "Repository rejections:\t%v\n", topN(report.RepoRejections, 20))
	fmt.Fprintf(twr, "Issue rejections:\t%v\n", topN(report.IssueRejections, 20))
	phases := maps.Keys(report.Dispatch)
	slices.Sort(phases)
	for _, phase := range phases {
		s := report.Dispatch[phase]
		fmt.Fprintf(twr, "Dispatch %s:\t%d ok, %d failed, %d not dispatched\n",
			phase, s.Succeeded, s.Failed, s.NotDispatched)
	}
	if err := twr.Flush(); err != nil {
		return err
	}

	if report.StoreDegraded {
		fmt.Fprintf(w, "\n%s\n", yellow("dedup store was unavailable; results may repeat earlier runs"))
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(w, "\n%s\n", red(fmt.Sprintf("%d failed units:", len(report.Failures))))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  %s %s [%s] %s\n", f.Phase, f.Unit, f.Kind, gray(f.Message))
		}
	}

	if len(report.Ranked) == 0 {
		fmt.Fprintf(w, "\n%s\n", gray("no issues found"))
		return nil
	}

	fmt.Fprintf(w, "\n%s\n", bold("Top issues"))
	twr = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(twr, "#\tSCORE\tLEVEL\tAGE\tISSUE\tTITLE\n")
	for i, c := range report.Ranked {
		if i >= top {
			break
		}
		fmt.Fprintf(twr, "%d\t%.3f\t%s\t%dd\t%s#%d\t%s\n",
			i+1,
			c.Score.Total,
			radar.DifficultyLabel(c),
			c.Issue.AgeDays(report.StartedAt),
			c.Issue.RepoKey, c.Issue.Number,
			shortTitle(c.Issue.Title, 60),
		)
	}
	if err := twr.Flush(); err != nil {
		return err
	}

	if report.Narration != "" {
		fmt.Fprintf(w, "\n%s\n", report.Narration)
	}
	return nil
}

func (r *rootCmd) runCmd() *serpent.Command {
	var (
		mode           string
		topics         []string
		categories     []string
		repos          []string
		lists          []string
		maxRepos       int64
		workers        int64
		allowReprocess bool
		jsonOut        bool
		top            int64
	)
	return &serpent.Command{
		Use:   "run",
		Short: "Run discovery once and print the ranked issues",
		Handler: func(inv *serpent.Invocation) error {
			log := newLogger()

			cfg, err := r.runConfig()
			if err != nil {
				return err
			}
			switch {
			case len(repos) > 0 || len(lists) > 0:
				cfg.Mode = radar.ModeList
				cfg.Repos, cfg.Lists = repos, lists
			case len(topics) > 0 || len(categories) > 0:
				cfg.Mode = radar.ModeTopics
				cfg.Topics, cfg.Categories = topics, categories
			}
			if mode != "" {
				cfg.Mode = mode
			}
			if maxRepos > 0 {
				cfg.MaxRepos = int(maxRepos)
			}
			if workers > 0 {
				cfg.Workers = int(workers)
			}
			if allowReprocess {
				cfg.AllowReprocess = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt)
			defer stop()

			runner, _, err := r.runner(ctx, log, cfg)
			if err != nil {
				return err
			}

			report, runErr := runner.Run(ctx, cfg)
			if report != nil {
				if jsonOut {
					enc := json.NewEncoder(inv.Stdout)
					enc.SetIndent("", "  ")
					if err := enc.Encode(report); err != nil {
						return err
					}
				} else if err := printReport(inv.Stdout, report, int(top)); err != nil {
					return err
				}
			}
			return runErr
		},
		Options: []serpent.Option{
			{
				Flag:        "mode",
				Description: "Discovery mode, topics or list. Inferred from the source flags when empty.",
				Value:       serpent.StringOf(&mode),
			},
			{
				Flag:        "topic",
				Description: "Topic to search. Repeatable.",
				Value:       serpent.StringArrayOf(&topics),
			},
			{
				Flag:        "category",
				Description: "Topic category to search. Repeatable.",
				Value:       serpent.StringArrayOf(&categories),
			},
			{
				Flag:        "repo",
				Description: "owner/name repository to scan. Repeatable.",
				Value:       serpent.StringArrayOf(&repos),
			},
			{
				Flag:        "list",
				Description: "Curated repository list to scan. Repeatable.",
				Value:       serpent.StringArrayOf(&lists),
			},
			{
				Flag:        "max-repos",
				Description: "Maximum repositories to retain. Zero keeps the configured value.",
				Value:       serpent.Int64Of(&maxRepos),
			},
			{
				Flag:        "workers",
				Description: "Concurrent units. Zero keeps the configured value.",
				Value:       serpent.Int64Of(&workers),
			},
			{
				Flag:        "allow-reprocess",
				Description: "Revisit repositories seen in earlier runs.",
				Value:       serpent.BoolOf(&allowReprocess),
			},
			{
				Flag:        "json",
				Description: "Print the full report as JSON.",
				Value:       serpent.BoolOf(&jsonOut),
			},
			{
				Flag:        "top",
				Description: "Number of issues to print.",
				Default:     "20",
				Value:       serpent.Int64Of(&top),
			},
		},
	}
}
