package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// dispatcher owns the worker pool of a single run.
type dispatcher struct {
	cfg    *run.Config
	agg    *Aggregator
	logger *zap.Logger

	// interrupted is set once run cancellation changed the fate of a unit.
	interrupted atomic.Bool
}

type result struct {
	verdict poc.Verdict
	err     error
}

// dispatch submits units in order to a pool of cfg.Threads workers and
// blocks until every submitted unit is terminal. Submission stops as soon
// as ctx is cancelled; units never submitted are marked cancelled. It
// reports whether cancellation cut the run short.
func (d *dispatcher) dispatch(ctx context.Context, units []*execution.Unit) bool {
	if len(units) == 0 {
		return false
	}

	size := d.cfg.Threads
	if size < 1 {
		size = constants.DefaultThreads
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(size, func(arg interface{}) {
		defer wg.Done()
		d.execute(ctx, arg.(*execution.Unit))
	}, ants.WithPanicHandler(func(p interface{}) {
		d.logger.Error("worker_panic", zap.Any("panic", p))
	}))
	if err != nil {
		d.logger.Error("pool_create_failed", zap.Error(err))
		for _, u := range units {
			d.finish(u, u.Fail(fmt.Errorf("worker pool: %w", err)))
		}
		return false
	}
	defer pool.Release()

	var limiter *rate.Limiter
	if d.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.RateLimit), d.cfg.RateLimit)
	}

	next := 0
	for ; next < len(units); next++ {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil && !waitToken(ctx, limiter) {
			break
		}

		u := units[next]
		wg.Add(1)
		// Invoke blocks while all workers are busy.
		if err := pool.Invoke(u); err != nil {
			wg.Done()
			d.finish(u, u.Fail(fmt.Errorf("submit: %w", err)))
		}
	}

	if next < len(units) {
		d.interrupted.Store(true)
		d.logger.Info("dispatch_stopped", zap.Int("unsubmitted", len(units)-next))
	}
	for _, u := range units[next:] {
		d.finish(u, u.Cancel())
	}

	wg.Wait()
	return d.interrupted.Load()
}

// waitToken blocks until limiter grants a token. Unlike rate.Limiter.Wait
// it does not give up early when the wait would outlast ctx's deadline; it
// returns false only once ctx is actually done.
func waitToken(ctx context.Context, limiter *rate.Limiter) bool {
	r := limiter.Reserve()
	if !r.OK() {
		return ctx.Err() == nil
	}
	delay := r.Delay()
	if delay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		r.Cancel()
		return false
	}
}

// execute drives one unit to a terminal state. It never panics and never
// returns an error: every failure is recorded on the unit.
func (d *dispatcher) execute(runCtx context.Context, u *execution.Unit) {
	// Dequeued after cancellation.
	if runCtx.Err() != nil {
		d.interrupted.Store(true)
		d.finish(u, u.Cancel())
		return
	}

	m := u.Module()
	if !m.Capabilities.Supports(d.cfg.Mode) {
		d.finish(u, u.Fail(&sharedErrors.ModeUnsupportedError{Module: m.ID, Mode: d.cfg.Mode.String()}))
		return
	}

	if err := u.Start(); err != nil {
		d.logger.Error("unit_start_failed", zap.Int("index", u.Index()), zap.Error(err))
		return
	}
	d.agg.Started(u)

	parent := runCtx
	if d.cfg.CancelPolicy != run.CancelAbandon {
		parent = context.WithoutCancel(runCtx)
	}
	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultTimeoutSeconds) * time.Second
	}
	unitCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := m.Invoke(unitCtx, u.Target(), d.cfg)
		done <- result{verdict: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-unitCtx.Done():
		// A result that raced the deadline still counts.
		select {
		case res = <-done:
		default:
			res.err = interruption(unitCtx)
		}
	}

	if res.err != nil {
		if runCtx.Err() != nil && errors.Is(unitCtx.Err(), context.Canceled) {
			d.interrupted.Store(true)
		}
		if unitCtx.Err() != nil && !errors.Is(res.err, sharedErrors.ErrUnitTimeout) && !errors.Is(res.err, sharedErrors.ErrUnitCancelled) {
			res.err = fmt.Errorf("%w: %v", interruption(unitCtx), res.err)
		}
		d.finish(u, u.Fail(wrapExecution(u, res.err)))
		return
	}

	if res.verdict.Vulnerable {
		d.finish(u, u.Vulnerable(res.verdict.Evidence))
		return
	}
	d.finish(u, u.Succeed(res.verdict.Evidence))
}

func interruption(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return sharedErrors.ErrUnitCancelled
	}
	return sharedErrors.ErrUnitTimeout
}

func wrapExecution(u *execution.Unit, err error) error {
	var modeErr *sharedErrors.ModeUnsupportedError
	if errors.As(err, &modeErr) {
		return err
	}
	return &sharedErrors.ExecutionError{Module: u.Module().ID, Target: u.Target().String(), Err: err}
}

// finish records a terminal unit. transitionErr is the result of the
// transition call that was supposed to make it terminal.
func (d *dispatcher) finish(u *execution.Unit, transitionErr error) {
	if transitionErr != nil {
		d.logger.Error("unit_transition_failed", zap.Int("index", u.Index()), zap.Error(transitionErr))
		return
	}
	if err := d.agg.Record(u); err != nil {
		d.logger.Error("unit_record_failed", zap.Int("index", u.Index()), zap.Error(err))
		return
	}
	d.logger.Debug("unit_finished",
		zap.Int("index", u.Index()),
		zap.String("module", u.Module().ID),
		zap.String("target", u.Target().String()),
		zap.String("status", string(u.Status())),
		zap.String("reason", u.Reason()),
		zap.Duration("duration", u.Duration()),
	)
}
