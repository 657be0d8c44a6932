package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/poc-cli/internal/application/orchestrator"
	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/infrastructure/loader"
	jsonstore "github.com/khanhnv2901/poc-cli/internal/infrastructure/persistence/json"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run POC modules against one or more targets",
	Long: `Load POC modules, apply each to every target and report the results.

Modules are YAML/JSON definitions given as a file, a directory or a comma
separated list of both. Targets come from --url and/or a line-delimited
--file; blank lines and lines starting with # are skipped.

Verify mode (default) only runs non-destructive checks. --attack runs the
attack capability and must only be used on systems you are authorized to
exploit.`,
	Example: `  poc-cli run -r pocs/ -u http://10.0.0.5:8080
  poc-cli run -r pocs/sqli.yaml -f targets.txt --threads 10 --report out.json
  poc-cli run -r pocs/ -u https://lab.test --attack --proxy socks5://127.0.0.1:1080`,
	RunE: runPOCs,
}

func init() {
	flags := runCmd.Flags()
	flags.StringP("url", "u", "", "target URL")
	flags.StringP("file", "f", "", "file with one target URL per line")
	flags.StringP("poc", "r", "", "POC file, directory or module ID (comma separated)")
	flags.Bool("recursive", false, "descend into subdirectories when --poc is a directory")
	flags.Bool("verify", false, "run the verify capability (default)")
	flags.Bool("attack", false, "run the attack capability")
	flags.String("cookie", "", "HTTP Cookie header value")
	flags.String("referer", "", "HTTP Referer header value")
	flags.String("user-agent", "", "HTTP User-Agent header value")
	flags.Bool("random-agent", false, "pick a random User-Agent for every request")
	flags.String("proxy", "", "proxy URL (http, https or socks5)")
	flags.String("proxy-cred", "", "proxy credentials as name:password")
	flags.Int("timeout", cliConfig.Defaults.TimeoutSecs, "per-unit timeout in seconds")
	flags.String("headers", "", `extra headers separated by newlines or "\n"`)
	flags.Int("threads", cliConfig.Defaults.Threads, "number of concurrent workers")
	flags.Int("rate", 0, "maximum units started per second (0 = unlimited)")
	flags.String("report", "", "also write the JSON report to this path")
	flags.String("cancel-policy", string(run.CancelWait), "on interrupt: wait for running units or abandon them")
	flags.Bool("fail-on-findings", false, "exit with status 2 when any target is vulnerable")
	flags.Bool("fail-on-errors", false, "exit with status 3 when any unit errored")
	flags.Bool("progress", true, "show a live progress line on stderr")
	flags.String("format", "text", "summary output format: text or json")
	runCmd.MarkFlagsMutuallyExclusive("verify", "attack")
}

// optionsFromFlags maps command line flags onto the flat option schema.
func optionsFromFlags(cmd *cobra.Command) (run.Options, error) {
	f := cmd.Flags()
	opts := run.DefaultOptions()

	getString := func(name string) string {
		v, _ := f.GetString(name)
		return v
	}
	getInt := func(name string) int {
		v, _ := f.GetInt(name)
		return v
	}
	getBool := func(name string) bool {
		v, _ := f.GetBool(name)
		return v
	}

	opts.URL = getString("url")
	opts.URLFile = getString("file")
	opts.PocFile = getString("poc")
	opts.Recursive = getBool("recursive")
	opts.Cookie = getString("cookie")
	opts.Referer = getString("referer")
	opts.Agent = getString("user-agent")
	opts.RandomAgent = getBool("random-agent")
	opts.Proxy = getString("proxy")
	opts.ProxyCred = getString("proxy-cred")
	opts.Timeout = getInt("timeout")
	opts.Headers = getString("headers")
	opts.Threads = getInt("threads")
	opts.Rate = getInt("rate")
	opts.Report = getString("report")
	opts.CancelPolicy = getString("cancel-policy")

	if getBool("verify") && getBool("attack") {
		return opts, sharedErrors.NewConfigError("mode", errors.New("--verify and --attack are mutually exclusive"))
	}
	if getBool("attack") {
		opts.Mode = string(run.ModeAttack)
	}

	if strings.TrimSpace(opts.PocFile) == "" {
		dir, err := getModulesDir()
		if err != nil {
			return opts, sharedErrors.NewConfigError("pocFile", err)
		}
		opts.PocFile = dir
	}
	return opts, nil
}

func runPOCs(cmd *cobra.Command, args []string) error {
	appCtx := getAppContext(cmd)
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("invalid format: %s (must be text or json)", format)}
	}

	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	cfg, err := run.FromOptions(opts)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	orch := orchestrator.New(
		loader.New(loader.WithLogger(appCtx.ZapLogger)),
		orchestrator.WithLogger(appCtx.ZapLogger),
	)
	prepared, err := orch.Prepare(cfg)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	for _, u := range prepared.Modules.Unloaded {
		fmt.Fprintf(errOut, "%s skipped module %s: %s\n", colorWarn("!"), u.Path, u.Reason)
	}
	if prepared.Resolution.Skipped > 0 {
		fmt.Fprintf(errOut, "%s skipped %d target line(s)\n", colorWarn("!"), prepared.Resolution.Skipped)
	}
	if cfg.Attack() {
		fmt.Fprintf(errOut, "%s attack mode: destructive payloads will be sent\n", colorWarn("!"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-finished:
			default:
				fmt.Fprintf(errOut, "\n%s interrupted, finalizing partial results (%s)...\n", colorWarn("!"), cfg.CancelPolicy)
			}
		case <-finished:
		}
	}()

	var observers []orchestrator.Observer
	showProgress, _ := cmd.Flags().GetBool("progress")
	var printer *progressPrinter
	if showProgress {
		total := len(prepared.Modules.Modules) * len(prepared.Resolution.Targets)
		printer = newProgressPrinter(errOut, total, cfg.Mode.String())
		printer.Start()
		observers = append(observers, printer)
	}

	report := orch.Execute(ctx, cfg, prepared, observers...)
	close(finished)
	if printer != nil {
		printer.Stop()
	}

	if err := storeReport(appCtx, cfg, report); err != nil {
		appCtx.Logger.Errorf("report_save_failed run_id=%s err=%v", report.ID, err)
		fmt.Fprintf(errOut, "%s failed to save report: %v\n", colorError("✗"), err)
	}

	switch format {
	case "json":
		if err := writeReportJSON(out, report); err != nil {
			return err
		}
	default:
		printRunSummary(out, report)
	}

	return exitStatus(cmd, report)
}

func storeReport(appCtx *AppContext, cfg *run.Config, report *execution.Report) error {
	repo, err := jsonstore.NewReportRepository(appCtx.ReportsDir)
	if err != nil {
		return err
	}
	if err := repo.Save(context.Background(), report); err != nil {
		return err
	}
	if cfg.Report != "" {
		return jsonstore.WriteReport(cfg.Report, report)
	}
	return nil
}

// exitStatus maps a finished run to the process exit code. A cancelled run
// always fails; findings and unit errors only with their opt-in flags.
func exitStatus(cmd *cobra.Command, report *execution.Report) error {
	failOnFindings, _ := cmd.Flags().GetBool("fail-on-findings")
	failOnErrors, _ := cmd.Flags().GetBool("fail-on-errors")
	switch {
	case report.Cancelled:
		return &ExitError{Code: ExitCancelled}
	case failOnFindings && report.HasFindings():
		return &ExitError{Code: ExitFindings}
	case failOnErrors && report.Summary.Errored > 0:
		return &ExitError{Code: ExitErrors}
	}
	return nil
}
