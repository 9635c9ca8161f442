package pipeline

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// FormatReport renders the per-target summary table printed after a run.
func FormatReport(report *model.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s: %s\n", report.RunID, strings.ToUpper(string(report.Status)))
	written, rejected := report.Totals()
	fmt.Fprintf(&b, "Written: %d  Rejected: %d  Targets: %d  Elapsed: %s\n\n",
		written, rejected, len(report.Outcomes),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Second))

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JEWELLER\tCITY\tSTATUS\tWRITTEN\tREJECTED\tSKIPPED\tERROR")
	for _, o := range report.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			o.Target.Jeweller, o.Target.City, o.Status,
			o.Written, o.Rejected, len(o.SkippedDays), truncate(o.Error, 80))
	}
	w.Flush() //nolint:errcheck

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
