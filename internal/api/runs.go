package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/poc-cli/internal/application/orchestrator"
	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
)

// ErrAttackDisabled rejects attack jobs on a server started without
// attack mode enabled.
var ErrAttackDisabled = errors.New("attack mode is disabled on this server")

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// RunService executes submitted jobs through the orchestrator in the
// background and stores each finished report.
type RunService struct {
	manager      *JobManager
	orchestrator *orchestrator.Orchestrator
	reports      execution.Repository
	logger       *zap.Logger
	allowAttack  bool
	defaultPoc   string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// RunServiceConfig wires a RunService.
type RunServiceConfig struct {
	Manager      *JobManager
	Orchestrator *orchestrator.Orchestrator
	Reports      execution.Repository
	Logger       *zap.Logger
	AllowAttack  bool
	// DefaultPoc is the module directory. Requests naming no POC use all
	// of it; named entries are resolved inside it.
	DefaultPoc string
}

func NewRunService(cfg RunServiceConfig) *RunService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := cfg.Manager
	if manager == nil {
		manager = NewJobManager()
	}
	return &RunService{
		manager:      manager,
		orchestrator: cfg.Orchestrator,
		reports:      cfg.Reports,
		logger:       logger,
		allowAttack:  cfg.AllowAttack,
		defaultPoc:   cfg.DefaultPoc,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// StartJob validates the options, loads modules and resolves targets
// synchronously, then dispatches in the background. Configuration
// problems are returned to the caller and no job is created.
func (s *RunService) StartJob(ctx context.Context, req JobRequest) (*Job, error) {
	opts := req.Options
	// Reports go to the repository; a client never picks a server path.
	opts.Report = ""
	pocFile, err := scopePocPath(s.defaultPoc, opts.PocFile)
	if err != nil {
		return nil, err
	}
	opts.PocFile = pocFile

	cfg, err := run.FromOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Attack() && !s.allowAttack {
		return nil, ErrAttackDisabled
	}

	prepared, err := s.orchestrator.Prepare(cfg)
	if err != nil {
		return nil, err
	}

	job := s.manager.CreateJob(cfg.Mode.String())
	total := len(prepared.Modules.Modules) * len(prepared.Resolution.Targets)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(runCtx, job.ID, cfg, prepared, total)

	return s.manager.GetJob(job.ID), nil
}

func (s *RunService) execute(ctx context.Context, id string, cfg *run.Config, p *orchestrator.Prepared, total int) {
	defer s.wg.Done()
	defer s.release(id)

	started := time.Now().UTC()
	s.manager.UpdateJob(id, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &started
		j.Total = total
	})

	progress := orchestrator.ObserverFuncs{
		OnFinished: func(execution.Outcome) {
			s.manager.UpdateJob(id, func(j *Job) { j.Completed++ })
		},
	}
	report := s.orchestrator.Execute(ctx, cfg, p, progress)

	var saveErr error
	if s.reports != nil {
		// The run may have been cancelled; saving still has to happen.
		saveErr = s.reports.Save(context.WithoutCancel(ctx), report)
		if saveErr != nil {
			s.logger.Error("report_save_failed", zap.String("job_id", id), zap.Error(saveErr))
		}
	}

	finished := time.Now().UTC()
	summary := report.Summary
	s.manager.UpdateJob(id, func(j *Job) {
		j.FinishedAt = &finished
		j.Summary = &summary
		j.ReportID = report.ID
		j.Completed = summary.Total
		switch {
		case saveErr != nil:
			j.Status = JobError
			j.Error = fmt.Sprintf("save report: %v", saveErr)
		case report.Cancelled:
			j.Status = JobCancelled
		default:
			j.Status = JobDone
		}
	})
	s.logger.Info("job_finished",
		zap.String("job_id", id),
		zap.String("report_id", report.ID),
		zap.Int("vulnerable", summary.Vulnerable),
		zap.Bool("cancelled", report.Cancelled),
	)
}

func (s *RunService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// CancelJob cancels a running job. The job still finishes with a report
// covering every unit.
func (s *RunService) CancelJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()

	if !ok {
		job := s.manager.GetJob(id)
		if job == nil {
			return nil, ErrJobNotFound
		}
		return job, nil
	}
	cancel()
	return s.manager.GetJob(id), nil
}

func (s *RunService) GetJob(ctx context.Context, id string) (*Job, error) {
	job := s.manager.GetJob(id)
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *RunService) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.manager.ListJobs(limit), nil
}

func (s *RunService) Subscribe() (chan Job, func()) {
	return s.manager.Subscribe()
}

// Shutdown cancels every running job and waits for their reports to be
// saved or for ctx to expire.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.manager.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
