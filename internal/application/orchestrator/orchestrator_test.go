package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

type checkFn = func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error)

// countingModule wraps check functions with per-capability invocation counters.
type countingModule struct {
	verifyCalls atomic.Int32
	attackCalls atomic.Int32
}

func (c *countingModule) module(id string, verify, attack checkFn) *poc.Module {
	f := poc.Funcs{}
	if verify != nil {
		f.VerifyFn = func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
			c.verifyCalls.Add(1)
			return verify(ctx, t, cfg)
		}
	}
	if attack != nil {
		f.AttackFn = func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
			c.attackCalls.Add(1)
			return attack(ctx, t, cfg)
		}
	}
	return &poc.Module{ID: id, Name: strings.ToUpper(id), Checker: f, Capabilities: f.Capabilities()}
}

func vulnerableOn(host string) checkFn {
	return func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		return poc.Verdict{Vulnerable: t.Hostname() == host, Evidence: t.Hostname()}, nil
	}
}

func clean(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
	return poc.Verdict{}, nil
}

func catalogOf(t *testing.T, modules ...*poc.Module) ModuleSource {
	t.Helper()
	c := poc.NewCatalog()
	for _, m := range modules {
		require.NoError(t, c.Register(m))
	}
	return orderedSource{catalog: c, ids: ids(modules)}
}

// orderedSource keeps registration order so tests control module order.
type orderedSource struct {
	catalog *poc.Catalog
	ids     []string
}

func (s orderedSource) Load(string, bool) (poc.LoadResult, error) {
	return s.catalog.Select(s.ids...), nil
}

func ids(modules []*poc.Module) []string {
	out := make([]string, len(modules))
	for i, m := range modules {
		out[i] = m.ID
	}
	return out
}

func targetFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600))
	return path
}

func newConfig(mode run.Mode, file string, threads int) *run.Config {
	return &run.Config{
		Mode:         mode,
		URLFile:      file,
		Threads:      threads,
		Timeout:      2 * time.Second,
		CancelPolicy: run.CancelWait,
	}
}

func statuses(r *execution.Report) []execution.Status {
	out := make([]execution.Status, len(r.Units))
	for i, u := range r.Units {
		out[i] = u.Status
	}
	return out
}

func TestRunVerifyScenario(t *testing.T) {
	m1c, m2c := &countingModule{}, &countingModule{}
	m1 := m1c.module("m1", vulnerableOn("a.test"), vulnerableOn("a.test"))
	m2 := m2c.module("m2", clean, nil)

	o := New(catalogOf(t, m1, m2))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://a.test", "http://a.test", "http://b.test"), 2)

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, report.Units, 4)
	assert.Equal(t, []string{"m1", "m1", "m2", "m2"}, []string{
		report.Units[0].ModuleID, report.Units[1].ModuleID, report.Units[2].ModuleID, report.Units[3].ModuleID,
	})
	assert.Equal(t, "http://a.test/", report.Units[0].Target)
	assert.Equal(t, "http://b.test/", report.Units[1].Target)
	assert.Equal(t, []execution.Status{
		execution.StatusFailedVulnerable,
		execution.StatusSucceeded,
		execution.StatusSucceeded,
		execution.StatusSucceeded,
	}, statuses(report))

	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Vulnerable)
	assert.Equal(t, 3, report.Summary.Clean)
	assert.True(t, report.HasFindings())
	assert.False(t, report.HasErrors())
	assert.False(t, report.Cancelled)
	assert.NotEmpty(t, report.ID)

	assert.EqualValues(t, 0, m1c.attackCalls.Load(), "verify run must not invoke attack")
	assert.EqualValues(t, 2, m1c.verifyCalls.Load())
	assert.EqualValues(t, 2, m2c.verifyCalls.Load())
}

func TestRunAttackScenarioGatesUnsupportedModules(t *testing.T) {
	m1c, m2c := &countingModule{}, &countingModule{}
	m1 := m1c.module("m1", clean, vulnerableOn("a.test"))
	m2 := m2c.module("m2", clean, nil)

	o := New(catalogOf(t, m1, m2))
	cfg := newConfig(run.ModeAttack, targetFile(t, "http://a.test", "http://a.test", "http://b.test"), 2)

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Units, 4)

	assert.Equal(t, execution.StatusFailedVulnerable, report.Units[0].Status)
	assert.Equal(t, execution.StatusSucceeded, report.Units[1].Status)
	for _, u := range report.Units[2:] {
		assert.Equal(t, execution.StatusFailedError, u.Status)
		assert.Equal(t, "attack mode unsupported by module", u.Reason)
	}

	assert.EqualValues(t, 2, m1c.attackCalls.Load())
	assert.EqualValues(t, 0, m1c.verifyCalls.Load())
	assert.EqualValues(t, 0, m2c.verifyCalls.Load(), "gated module must not run any check logic")
	assert.EqualValues(t, 0, m2c.attackCalls.Load())
	assert.Equal(t, 2, report.Summary.Errored)
}

func TestRunCardinality(t *testing.T) {
	var modules []*poc.Module
	counter := &countingModule{}
	for _, id := range []string{"a", "b", "c"} {
		modules = append(modules, counter.module(id, clean, nil))
	}
	o := New(catalogOf(t, modules...))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://h1.test", "http://h2.test", "# comment", "", "not a url", "http://h1.test"), 4)

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, report.Units, 6)
	assert.Equal(t, []string{"http://h1.test/", "http://h2.test/"}, report.Targets)
	assert.Equal(t, 3, report.Summary.SkippedTargets)
	for i, u := range report.Units {
		assert.Equal(t, i, u.Index)
		assert.True(t, u.Status.Terminal())
	}
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	const threads = 3
	var inFlight, maxInFlight atomic.Int32
	slow := func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return poc.Verdict{}, nil
	}

	counter := &countingModule{}
	var modules []*poc.Module
	for _, id := range []string{"a", "b", "c", "d"} {
		modules = append(modules, counter.module(id, slow, nil))
	}

	var running, maxRunning atomic.Int32
	obs := ObserverFuncs{
		OnStarted: func(execution.Outcome) {
			n := running.Add(1)
			for {
				cur := maxRunning.Load()
				if n <= cur || maxRunning.CompareAndSwap(cur, n) {
					break
				}
			}
		},
		OnFinished: func(o execution.Outcome) {
			if o.Status != execution.StatusCancelled {
				running.Add(-1)
			}
		},
	}

	o := New(catalogOf(t, modules...))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://1.test", "http://2.test", "http://3.test", "http://4.test", "http://5.test"), threads)

	report, err := o.Run(context.Background(), cfg, obs)
	require.NoError(t, err)

	assert.Len(t, report.Units, 20)
	assert.Equal(t, 20, report.Summary.Clean)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(threads))
	assert.LessOrEqual(t, maxRunning.Load(), int32(threads))
	assert.Greater(t, maxInFlight.Load(), int32(0))
}

func TestRunIsolatesFailures(t *testing.T) {
	counter := &countingModule{}
	panics := counter.module("panics", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		panic("boom")
	}, nil)
	fails := counter.module("fails", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		return poc.Verdict{}, errors.New("connection refused")
	}, nil)
	ok := counter.module("ok", vulnerableOn("a.test"), nil)

	o := New(catalogOf(t, panics, fails, ok))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://a.test", "http://b.test"), 2)

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Units, 6)

	for _, u := range report.Units[:2] {
		assert.Equal(t, execution.StatusFailedError, u.Status)
		assert.Equal(t, "panic: boom", u.Reason)
	}
	for _, u := range report.Units[2:4] {
		assert.Equal(t, execution.StatusFailedError, u.Status)
		assert.Equal(t, "connection refused", u.Reason)
	}
	assert.Equal(t, execution.StatusFailedVulnerable, report.Units[4].Status)
	assert.Equal(t, execution.StatusSucceeded, report.Units[5].Status)
	assert.Equal(t, 4, report.Summary.Errored)
}

func TestRunTimesOutSlowUnits(t *testing.T) {
	counter := &countingModule{}
	honours := counter.module("honours", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		<-ctx.Done()
		return poc.Verdict{}, ctx.Err()
	}, nil)
	ignores := counter.module("ignores", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		time.Sleep(500 * time.Millisecond)
		return poc.Verdict{Vulnerable: true}, nil
	}, nil)

	o := New(catalogOf(t, honours, ignores))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://a.test"), 2)
	cfg.Timeout = 50 * time.Millisecond

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Units, 2)
	for _, u := range report.Units {
		assert.Equal(t, execution.StatusFailedError, u.Status)
		assert.Equal(t, "timeout", u.Reason)
	}
}

func TestRunCancelAbandon(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	counter := &countingModule{}
	blocks := counter.module("blocks", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return poc.Verdict{}, ctx.Err()
	}, nil)

	o := New(catalogOf(t, blocks))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://1.test", "http://2.test", "http://3.test", "http://4.test"), 1)
	cfg.CancelPolicy = run.CancelAbandon
	cfg.Timeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	report, err := o.Run(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, report.Units, 4)
	assert.True(t, report.Cancelled)

	assert.Equal(t, execution.StatusFailedError, report.Units[0].Status)
	assert.Equal(t, "cancelled", report.Units[0].Reason)
	for _, u := range report.Units[1:] {
		assert.Equal(t, execution.StatusCancelled, u.Status)
	}
	assert.EqualValues(t, 1, counter.verifyCalls.Load())
	assert.Equal(t, 3, report.Summary.Cancelled)
	assert.True(t, report.HasErrors())
}

func TestRunCancelWaitLetsRunningUnitsFinish(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	counter := &countingModule{}
	slow := counter.module("slow", func(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(50 * time.Millisecond):
			return poc.Verdict{Vulnerable: true}, nil
		case <-ctx.Done():
			return poc.Verdict{}, ctx.Err()
		}
	}, nil)

	o := New(catalogOf(t, slow))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://1.test", "http://2.test", "http://3.test"), 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	report, err := o.Run(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, report.Units, 3)

	assert.Equal(t, execution.StatusFailedVulnerable, report.Units[0].Status)
	for _, u := range report.Units[1:] {
		assert.Equal(t, execution.StatusCancelled, u.Status)
	}
	for _, u := range report.Units {
		assert.NotEqual(t, execution.StatusPending, u.Status)
		assert.NotEqual(t, execution.StatusRunning, u.Status)
	}
	assert.True(t, report.Cancelled)
}

func TestRunCancelAfterLastUnitLeavesRunComplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := ObserverFuncs{OnFinished: func(execution.Outcome) { cancel() }}

	counter := &countingModule{}
	o := New(catalogOf(t, counter.module("m", clean, nil)), WithObserver(obs))
	report, err := o.Run(ctx, newConfig(run.ModeVerify, targetFile(t, "http://a.test"), 1))
	require.NoError(t, err)

	require.Error(t, ctx.Err())
	assert.Equal(t, []execution.Status{execution.StatusSucceeded}, statuses(report))
	assert.False(t, report.Cancelled)
}

func TestRunRateLimitPacesDispatch(t *testing.T) {
	counter := &countingModule{}
	o := New(catalogOf(t, counter.module("m", clean, nil)))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://1.test", "http://2.test", "http://3.test"), 3)
	cfg.RateLimit = 2

	began := time.Now()
	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	// Burst covers two units; the third waits for the next token.
	assert.GreaterOrEqual(t, time.Since(began), 400*time.Millisecond)
	assert.Equal(t, 3, report.Summary.Clean)
	assert.False(t, report.Cancelled)
}

func TestRunRateLimitHonoursDeadline(t *testing.T) {
	counter := &countingModule{}
	o := New(catalogOf(t, counter.module("m", clean, nil)))
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://1.test", "http://2.test", "http://3.test"), 1)
	cfg.RateLimit = 1

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	report, err := o.Run(ctx, cfg)
	require.NoError(t, err)

	// Dispatch waits for the deadline instead of giving up early, and the
	// units it never submitted mark the run as cancelled.
	require.Error(t, ctx.Err())
	assert.Equal(t, []execution.Status{
		execution.StatusSucceeded,
		execution.StatusCancelled,
		execution.StatusCancelled,
	}, statuses(report))
	assert.True(t, report.Cancelled)
	assert.EqualValues(t, 1, counter.verifyCalls.Load())
}

func TestWaitTokenReturnsOnlyWhenContextIsDone(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(2), 1)
	require.True(t, waitToken(context.Background(), limiter), "first token is immediate")

	// The next token is 500ms away, past this deadline.
	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	assert.False(t, waitToken(short, limiter))
	assert.Error(t, short.Err(), "gave up before the context was done")

	long, cancelLong := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelLong()
	assert.True(t, waitToken(long, limiter))

	done, stop := context.WithCancel(context.Background())
	stop()
	assert.False(t, waitToken(done, limiter))
}

func TestRunConfigErrors(t *testing.T) {
	counter := &countingModule{}

	t.Run("no modules", func(t *testing.T) {
		o := New(catalogOf(t))
		_, err := o.Run(context.Background(), newConfig(run.ModeVerify, targetFile(t, "http://a.test"), 1))
		require.Error(t, err)
		assert.True(t, sharedErrors.IsConfigError(err))
		assert.ErrorIs(t, err, sharedErrors.ErrNoModules)
	})

	t.Run("no targets", func(t *testing.T) {
		o := New(catalogOf(t, counter.module("m", clean, nil)))
		_, err := o.Run(context.Background(), newConfig(run.ModeVerify, targetFile(t, "# nothing", ""), 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, sharedErrors.ErrNoTargets)
	})

	t.Run("no target input", func(t *testing.T) {
		o := New(catalogOf(t, counter.module("m", clean, nil)))
		_, err := o.Run(context.Background(), newConfig(run.ModeVerify, "", 1))
		require.Error(t, err)
		assert.True(t, sharedErrors.IsConfigError(err))
	})

	assert.EqualValues(t, 0, counter.verifyCalls.Load())
}

func TestRunRecordsUnloadedModules(t *testing.T) {
	c := poc.NewCatalog()
	counter := &countingModule{}
	require.NoError(t, c.Register(counter.module("m", clean, nil)))

	o := New(CatalogSource{Catalog: c})
	cfg := newConfig(run.ModeVerify, targetFile(t, "http://a.test"), 1)
	cfg.PocPath = "m, missing"

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, report.Units, 1)
	require.Len(t, report.Unloaded, 1)
	assert.Equal(t, "missing", report.Unloaded[0].Path)
	assert.Equal(t, 1, report.Summary.SkippedUnloaded)
}

func TestObserversSeeEveryUnit(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]execution.Status{}
	obs := ObserverFuncs{OnFinished: func(o execution.Outcome) {
		mu.Lock()
		seen[o.Index] = o.Status
		mu.Unlock()
	}}

	counter := &countingModule{}
	o := New(catalogOf(t, counter.module("a", clean, nil), counter.module("b", clean, clean)), WithObserver(obs))
	report, err := o.Run(context.Background(), newConfig(run.ModeAttack, targetFile(t, "http://a.test", "http://b.test"), 2))
	require.NoError(t, err)

	assert.Len(t, seen, len(report.Units))
	for _, u := range report.Units {
		assert.Equal(t, u.Status, seen[u.Index])
	}
}

func TestAggregatorRejectsNonTerminalUnits(t *testing.T) {
	m := &poc.Module{ID: "m"}
	agg := NewAggregator(2)

	pending := execution.NewUnit(0, m, target.MustParse("http://a.test"))
	assert.Error(t, agg.Record(pending))

	require.NoError(t, pending.Cancel())
	require.NoError(t, agg.Record(pending))
	assert.Error(t, agg.Record(pending), "double record must be rejected")

	assert.Equal(t, 1, agg.Completed())
	assert.Equal(t, 1, agg.Summary().Cancelled)
	assert.Len(t, agg.Outcomes(), 1)
}
