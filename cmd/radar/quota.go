package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/coder/radar/ghapi"
	"github.com/coder/serpent"
	"github.com/fatih/color"
)

func (r *rootCmd) quotaCmd() *serpent.Command {
	return &serpent.Command{
		Use:   "quota",
		Short: "Show the remaining GitHub API quota",
		Handler: func(inv *serpent.Invocation) error {
			log := newLogger()
			ctx := inv.Context()

			fetcher, err := r.fetcher(ctx, log)
			if err != nil {
				return err
			}
			status, err := fetcher.Quota(ctx)
			if err != nil {
				return fmt.Errorf("quota: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			twr := tabwriter.NewWriter(inv.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(twr, "BUCKET\tREMAINING\tLIMIT\tRESETS IN\n")
			for _, b := range []ghapi.Bucket{status.Core, status.Search} {
				remaining := green(b.Remaining)
				if b.Remaining <= b.LowWater {
					remaining = red(b.Remaining)
				}
				fmt.Fprintf(twr, "%s\t%s\t%d\t%s\n",
					b.Name, remaining, b.Limit,
					time.Until(b.Reset).Truncate(time.Second),
				)
			}
			return twr.Flush()
		},
	}
}
