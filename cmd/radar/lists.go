package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/coder/radar"
	"github.com/coder/serpent"
)

func (r *rootCmd) listsCmd() *serpent.Command {
	return &serpent.Command{
		Use:   "lists",
		Short: "Show the built-in topic categories and repository lists",
		Handler: func(inv *serpent.Invocation) error {
			twr := tabwriter.NewWriter(inv.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(twr, "CATEGORY\tTOPICS\n")
			for _, name := range radar.Categories() {
				topics, _ := radar.CategoryTopics(name)
				fmt.Fprintf(twr, "%s\t%s\n", name, strings.Join(topics, ", "))
			}
			fmt.Fprintf(twr, "\nLIST\tREPOSITORIES\n")
			for _, name := range radar.RepoLists() {
				repos, _ := radar.RepoList(name)
				fmt.Fprintf(twr, "%s\t%s\n", name, strings.Join(repos, ", "))
			}
			return twr.Flush()
		},
	}
}
