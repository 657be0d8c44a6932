package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show system information and data directory paths",
	Long: `Display poc-cli configuration information including:
  - Data directory locations
  - Configuration file path
  - Platform information`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)

		dataDir, err := getDataDir()
		if err != nil {
			return fmt.Errorf("failed to get data directory: %w", err)
		}
		modulesDir, err := getModulesDir()
		if err != nil {
			return fmt.Errorf("failed to get modules directory: %w", err)
		}

		configFile := appCtx.ConfigFile
		if configFile == "" {
			if home, err := os.UserHomeDir(); err == nil {
				configFile = filepath.Join(home, ".poc-cli.yaml")
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "poc-cli System Information")
		fmt.Fprintln(out, "==========================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Platform:          %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Version:           %s\n", Version)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Data Locations:")
		fmt.Fprintf(out, "  Data Directory:     %s\n", dataDir)
		fmt.Fprintf(out, "  Modules Directory:  %s %s\n", modulesDir, existsLabel(modulesDir, "not created yet"))
		fmt.Fprintf(out, "  Reports Directory:  %s %s\n", appCtx.ReportsDir, existsLabel(appCtx.ReportsDir, "not created yet"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Configuration File:   %s %s\n", configFile, existsLabel(configFile, "using defaults"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "To override the data directory, set %s or add to ~/.poc-cli.yaml:\n", dataDirEnvVar)
		fmt.Fprintln(out, "  reports_dir: /custom/path/to/reports")
		fmt.Fprintln(out, "  defaults:")
		fmt.Fprintln(out, "    poc: /custom/path/to/pocs")

		return nil
	},
}

func existsLabel(path, missing string) string {
	if path == "" {
		return "✗ (" + missing + ")"
	}
	if _, err := os.Stat(path); err == nil {
		return "✓ (exists)"
	}
	return "✗ (" + missing + ")"
}
