package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// Health exit statuses, following the monitoring-plugin convention.
const (
	ExitWarning  = 1
	ExitCritical = 2
)

// Health prints the system health report. It exits with ExitCritical when
// a check is critical and ExitWarning when one is at warning.
func Health(args []string) {
	var asJSON, issuesOnly bool
	ctx, _, cleanup := InitCmd("health", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&asJSON, "json", false, "Print the report as JSON")
		fs.BoolVar(&issuesOnly, "issues", false, "Only list warning and critical checks")
	})
	log := logging.WithComponent("cmd")

	h, err := ctx.Checker.Check(context.Background())
	if err != nil {
		cleanup()
		log.Fatal(err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(h)
	} else {
		err = writeHealthReport(os.Stdout, h, issuesOnly)
	}
	cleanup()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(healthExitCode(h))
}

func healthExitCode(h *health.SystemHealth) int {
	switch {
	case h.HasCritical():
		return ExitCritical
	case h.HasWarnings():
		return ExitWarning
	}
	return 0
}

func writeHealthReport(w io.Writer, h *health.SystemHealth, issuesOnly bool) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", h.Status.Symbol(), h.Summary()); err != nil {
		return err
	}
	checks := h.Checks
	if issuesOnly {
		checks = h.Issues()
	}
	category := ""
	for _, c := range checks {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(w, "\n%s\n", category)
		}
		if _, err := fmt.Fprintf(w, "  %s %-24s %s\n", c.Status.Symbol(), c.Name, c.Message); err != nil {
			return err
		}
	}
	return nil
}
