package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidthor/stackctl/pkg/engine"
	"github.com/davidthor/stackctl/pkg/engine/executor"
)

// printReport renders a run report in the requested format.
func printReport(w io.Writer, report *engine.Report, format string) error {
	switch format {
	case "yaml":
		return yaml.NewEncoder(w).Encode(report)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text", "":
		printTextReport(w, report)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (expected text, yaml, or json)", format)
	}
}

func printTextReport(w io.Writer, report *engine.Report) {
	fmt.Fprintf(w, "\nRun %s (%s)\n\n", report.RunID, report.Mode)

	for _, u := range report.Units {
		fmt.Fprintf(w, "  %-10s %s", statusWord(u.Status), u.Key)
		if u.Duration > 0 {
			fmt.Fprintf(w, " (%s)", u.Duration.Round(10*time.Millisecond))
		}
		if u.Plan != nil {
			fmt.Fprintf(w, "  +%d ~%d -%d ±%d", u.Plan.Create, u.Plan.Update, u.Plan.Delete, u.Plan.Replace)
		}
		fmt.Fprintln(w)
		if u.Error != "" {
			fmt.Fprintf(w, "             %s\n", u.Error)
		}
	}

	if report.Success {
		fmt.Fprintf(w, "\nSucceeded in %s\n", report.Duration.Round(10*time.Millisecond))
	} else {
		fmt.Fprintf(w, "\nFailed after %s\n", report.Duration.Round(10*time.Millisecond))
	}
}

func statusWord(s executor.UnitStatus) string {
	switch s {
	case executor.StatusSucceeded:
		return "ok"
	case executor.StatusFailed:
		return "failed"
	case executor.StatusSkipped:
		return "skipped"
	case executor.StatusPending:
		return "pending"
	default:
		return string(s)
	}
}

// printValue renders an arbitrary value as yaml or json.
func printValue(w io.Writer, value interface{}, format string) error {
	switch format {
	case "yaml", "", "text":
		return yaml.NewEncoder(w).Encode(value)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	default:
		return fmt.Errorf("unknown output format %q (expected yaml or json)", format)
	}
}
