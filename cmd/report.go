package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	jsonstore "github.com/khanhnv2901/poc-cli/internal/infrastructure/persistence/json"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect stored run reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openReportRepository(cmd)
		if err != nil {
			return err
		}
		reports, err := repo.FindAll(cmd.Context())
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit > 0 && len(reports) > limit {
			reports = reports[:limit]
		}

		out := cmd.OutOrStdout()
		if len(reports) == 0 {
			fmt.Fprintln(out, "No reports stored yet")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tStarted\tMode\tUnits\tVulnerable\tErrored\tCancelled")
		fmt.Fprintln(w, "--\t-------\t----\t-----\t----------\t-------\t---------")
		for _, r := range reports {
			vuln := fmt.Sprint(r.Summary.Vulnerable)
			if r.Summary.Vulnerable > 0 {
				vuln = colorVuln(vuln)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%t\n",
				r.ID,
				formatShortTimestamp(r.StartedAt),
				r.Mode,
				r.Summary.Total,
				vuln,
				r.Summary.Errored,
				r.Cancelled,
			)
		}
		return w.Flush()
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored report as text, json or markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		format = strings.ToLower(format)
		if format != "text" && format != "json" && format != "md" {
			return fmt.Errorf("invalid format: %s (must be text, json, or md)", format)
		}

		report, err := findReport(cmd, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			return writeReportJSON(out, report)
		case "md":
			return writeReportMarkdown(out, report)
		default:
			printRunSummary(out, report)
			return nil
		}
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export <id> <path>",
	Short: "Write a stored report to a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := findReport(cmd, args[0])
		if err != nil {
			return err
		}
		if err := jsonstore.WriteReport(args[1], report); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s report %s written to %s\n", colorSuccess("✓"), report.ID, args[1])
		return nil
	},
}

var reportDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openReportRepository(cmd)
		if err != nil {
			return err
		}
		if err := repo.Delete(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, sharedErrors.ErrReportNotFound) {
				return &ReportNotFoundError{ID: args[0]}
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s report %s deleted\n", colorSuccess("✓"), args[0])
		return nil
	},
}

func init() {
	reportListCmd.Flags().Int("limit", 20, "maximum number of reports to list (0 = all)")
	reportShowCmd.Flags().String("format", "text", "output format: text, json, or md")

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportExportCmd)
	reportCmd.AddCommand(reportDeleteCmd)
}

func openReportRepository(cmd *cobra.Command) (*jsonstore.ReportRepository, error) {
	appCtx := getAppContext(cmd)
	dir := appCtx.ReportsDir
	if dir == "" {
		var err error
		if dir, err = getReportsDir(); err != nil {
			return nil, err
		}
	}
	return jsonstore.NewReportRepository(dir)
}

func findReport(cmd *cobra.Command, id string) (*execution.Report, error) {
	repo, err := openReportRepository(cmd)
	if err != nil {
		return nil, err
	}
	report, err := repo.FindByID(cmd.Context(), id)
	if errors.Is(err, sharedErrors.ErrReportNotFound) {
		return nil, &ReportNotFoundError{ID: id}
	}
	return report, err
}
