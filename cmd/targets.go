package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/goldrate-cli/internal/scrape"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List supported jewellers and their cities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printTargets(cmd, scrape.DefaultRegistry())
	},
}

func printTargets(cmd *cobra.Command, reg *scrape.Registry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JEWELLER\tEXTRACTION\tCITIES")
	for _, j := range reg.Jewellers() {
		site, _ := reg.Site(j)
		status := "supported"
		if !site.Extractable {
			status = "not implemented"
		}
		cities := make([]string, len(site.Cities))
		for i, c := range site.Cities {
			cities[i] = string(c)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", j, status, strings.Join(cities, ", "))
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
