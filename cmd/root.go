package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
)

var cfgFile string
var reportsDir string
var verbose bool

var rootCmd = &cobra.Command{
	Use:           "poc-cli",
	Short:         "Run proof-of-concept vulnerability checks against authorized targets",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".poc-cli")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("POC_CLI")
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}

		dir := reportsDir
		if dir == "" {
			dir = viper.GetString("reports_dir")
		}
		if dir == "" {
			var err error
			if dir, err = getReportsDir(); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create reports directory: %w", err)
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}

		zl, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		applyConfigDefaults(cmd)

		storeAppContext(cmd, &AppContext{
			Logger:     zl.Sugar(),
			ZapLogger:  zl,
			ReportsDir: dir,
			ConfigFile: viper.ConfigFileUsed(),
		})
		zl.Sugar().Debugf("reports_dir=%s config=%s", dir, viper.ConfigFileUsed())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appCtx := getAppContext(cmd); appCtx != nil && appCtx.ZapLogger != nil {
			_ = appCtx.ZapLogger.Sync()
		}
	},
}

// newLogger builds the production zap logger writing to stderr so stdout
// stays reserved for command output.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	return cfg.Build()
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, colorError("error:"), exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, colorError("error:"), err)
	os.Exit(ExitConfig)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.poc-cli.yaml)")
	rootCmd.PersistentFlags().StringVar(&reportsDir, "reports-dir", "", "directory for stored run reports (default is the data directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infoCmd)
}
