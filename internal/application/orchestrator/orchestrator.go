package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// ModuleSource resolves the configured POC path into loaded modules.
type ModuleSource interface {
	Load(path string, recursive bool) (poc.LoadResult, error)
}

// CatalogSource serves compiled-in modules by ID. An empty path selects
// every registered module.
type CatalogSource struct {
	Catalog *poc.Catalog
}

func (s CatalogSource) Load(path string, _ bool) (poc.LoadResult, error) {
	if path == "" {
		return s.Catalog.Select(), nil
	}
	return s.Catalog.Select(splitList(path)...), nil
}

// Orchestrator coordinates module loading, target resolution, dispatch and
// aggregation for one run at a time. It holds no per-run state, so a single
// Orchestrator may serve concurrent runs.
type Orchestrator struct {
	source    ModuleSource
	logger    *zap.Logger
	observers []Observer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer notified for every run.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// New creates an orchestrator that loads modules from source.
func New(source ModuleSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prepared is the resolved input of a run, before dispatch.
type Prepared struct {
	Modules    poc.LoadResult
	Resolution target.Resolution
}

// Prepare loads modules and resolves targets. Any failure is a
// *errors.ConfigError and nothing has been dispatched.
func (o *Orchestrator) Prepare(cfg *run.Config) (*Prepared, error) {
	if cfg == nil {
		return nil, sharedErrors.NewConfigError("", sharedErrors.ErrMissingRequired)
	}
	if o.source == nil {
		return nil, sharedErrors.NewConfigError("pocFile", fmt.Errorf("no module source configured"))
	}

	loaded, err := o.source.Load(cfg.PocPath, cfg.Recursive)
	if err != nil {
		if sharedErrors.IsConfigError(err) {
			return nil, err
		}
		return nil, sharedErrors.NewConfigError("pocFile", err)
	}
	for _, u := range loaded.Unloaded {
		o.logger.Warn("module_unloaded", zap.String("path", u.Path), zap.String("reason", u.Reason))
	}
	if len(loaded.Modules) == 0 {
		return nil, sharedErrors.NewConfigError("pocFile", sharedErrors.ErrNoModules)
	}

	res, err := target.Resolve(cfg.URL, cfg.URLFile)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		o.logger.Info("targets_skipped", zap.Int("skipped", res.Skipped), zap.Strings("invalid", res.Invalid))
	}

	return &Prepared{Modules: loaded, Resolution: res}, nil
}

// Run prepares and executes one run. A non-nil error is always a
// *errors.ConfigError raised before dispatch; once dispatch begins a
// report is always returned.
func (o *Orchestrator) Run(ctx context.Context, cfg *run.Config, observers ...Observer) (*execution.Report, error) {
	p, err := o.Prepare(cfg)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, cfg, p, observers...), nil
}

// Execute dispatches every module × target unit of p and returns the
// finalized report.
func (o *Orchestrator) Execute(ctx context.Context, cfg *run.Config, p *Prepared, observers ...Observer) *execution.Report {
	units := buildUnits(p.Modules.Modules, p.Resolution.Targets)

	all := make([]Observer, 0, len(o.observers)+len(observers))
	all = append(all, o.observers...)
	all = append(all, observers...)
	agg := NewAggregator(len(units), all...)

	report := &execution.Report{
		ID:        uuid.NewString(),
		Mode:      cfg.Mode,
		StartedAt: time.Now().UTC(),
		Modules:   moduleIDs(p.Modules.Modules),
		Targets:   targetStrings(p.Resolution.Targets),
		Unloaded:  p.Modules.Unloaded,
	}

	o.logger.Info("run_started",
		zap.String("run_id", report.ID),
		zap.String("mode", cfg.Mode.String()),
		zap.Int("modules", len(p.Modules.Modules)),
		zap.Int("targets", len(p.Resolution.Targets)),
		zap.Int("units", len(units)),
		zap.Int("threads", cfg.Threads),
	)

	d := &dispatcher{cfg: cfg, agg: agg, logger: o.logger.With(zap.String("run_id", report.ID))}
	interrupted := d.dispatch(ctx, units)

	report.FinishedAt = time.Now().UTC()
	// A cancel arriving after the last unit finished leaves the run complete.
	report.Cancelled = interrupted
	report.Units = agg.Outcomes()
	report.Summary = agg.Summary()
	report.Summary.SkippedUnloaded = len(p.Modules.Unloaded)
	report.Summary.SkippedTargets = p.Resolution.Skipped

	o.logger.Info("run_finished",
		zap.String("run_id", report.ID),
		zap.Int("total", report.Summary.Total),
		zap.Int("vulnerable", report.Summary.Vulnerable),
		zap.Int("errored", report.Summary.Errored),
		zap.Int("cancelled", report.Summary.Cancelled),
		zap.Bool("run_cancelled", report.Cancelled),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

// buildUnits lays units out module-major: every target of the first
// module, then every target of the next.
func buildUnits(modules []*poc.Module, targets []target.Target) []*execution.Unit {
	units := make([]*execution.Unit, 0, len(modules)*len(targets))
	for _, m := range modules {
		for _, t := range targets {
			units = append(units, execution.NewUnit(len(units), m, t))
		}
	}
	return units
}

func moduleIDs(modules []*poc.Module) []string {
	ids := make([]string, len(modules))
	for i, m := range modules {
		ids[i] = m.ID
	}
	return ids
}

func targetStrings(targets []target.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.String()
	}
	return out
}
