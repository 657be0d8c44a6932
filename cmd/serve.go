package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/poc-cli/internal/api"
	"github.com/khanhnv2901/poc-cli/internal/application/orchestrator"
	"github.com/khanhnv2901/poc-cli/internal/infrastructure/loader"
	"github.com/khanhnv2901/poc-cli/internal/infrastructure/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run poc-cli as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		addr, _ := cmd.Flags().GetString("addr")
		authToken, _ := cmd.Flags().GetString("auth-token")
		jobLimit, _ := cmd.Flags().GetInt("job-limit")
		maxJobs, _ := cmd.Flags().GetInt("max-jobs")
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origins")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		rateBurst, _ := cmd.Flags().GetInt("rate-burst")
		allowAttack, _ := cmd.Flags().GetBool("allow-attack")
		pocPath, _ := cmd.Flags().GetString("poc")

		if pocPath == "" {
			dir, err := getModulesDir()
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: err}
			}
			pocPath = dir
		}

		// The service logs at info level regardless of --verbose.
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() {
			_ = logger.Sync()
		}()

		reports, err := openReportRepository(cmd)
		if err != nil {
			return &ExitError{Code: ExitConfig, Err: err}
		}
		collector, err := metrics.NewCollector()
		if err != nil {
			return err
		}

		source := loader.New(loader.WithLogger(logger))
		orch := orchestrator.New(source,
			orchestrator.WithLogger(logger),
			orchestrator.WithObserver(collector),
		)

		manager := api.NewJobManager()
		if maxJobs > 0 {
			manager.SetMaxJobs(maxJobs)
		}
		runs := api.NewRunService(api.RunServiceConfig{
			Manager:      manager,
			Orchestrator: orch,
			Reports:      reports,
			Logger:       logger,
			AllowAttack:  allowAttack,
			DefaultPoc:   pocPath,
		})

		server := api.NewServer(api.Config{
			Jobs:        runs,
			Reports:     reports,
			Modules:     source,
			PocRoot:     pocPath,
			Health:      &healthAPIService{appCtx: appCtx, pocPath: pocPath},
			Metrics:     collector.Handler(),
			AuthToken:   authToken,
			JobLimit:    jobLimit,
			Logger:      logger,
			CORSOrigins: corsOrigins,
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
		})

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s API server listening on %s (modules: %s, reports: %s)\n", colorInfo("→"), addr, pocPath, appCtx.ReportsDir)
			if allowAttack {
				fmt.Fprintf(cmd.OutOrStdout(), "%s attack mode jobs are enabled\n", colorWarn("!"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				_ = runs.Shutdown(context.Background())
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}
			// Running jobs are cancelled and their partial reports stored.
			if err := runs.Shutdown(ctx); err != nil {
				return fmt.Errorf("failed to stop running jobs: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Server shutdown complete\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Address for the API server")
	serveCmd.Flags().String("auth-token", "", "Optional shared secret for API requests")
	serveCmd.Flags().StringP("poc", "r", "", "Default POC path for jobs that name none (default is the data directory)")
	serveCmd.Flags().Bool("allow-attack", false, "Accept jobs that run in attack mode")
	serveCmd.Flags().Int("job-limit", 20, "Default number of jobs returned by the job list")
	serveCmd.Flags().Int("max-jobs", 100, "Jobs kept in memory before the oldest finished ones are dropped")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "Rate limit burst size")
}

type healthAPIService struct {
	appCtx  *AppContext
	pocPath string
}

func (s *healthAPIService) Check(ctx context.Context) error {
	if s.appCtx.ReportsDir == "" {
		return fmt.Errorf("reports directory not configured")
	}
	return nil
}

func (s *healthAPIService) Ready(ctx context.Context) error {
	if err := s.Check(ctx); err != nil {
		return err
	}
	if _, err := os.Stat(s.appCtx.ReportsDir); err != nil {
		return fmt.Errorf("reports directory unavailable: %w", err)
	}
	if _, err := os.Stat(s.pocPath); err != nil {
		return fmt.Errorf("poc path unavailable: %w", err)
	}
	return nil
}
