package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
)

func TestCollectorTracksUnits(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	started := time.Now()
	ran := execution.Outcome{ModuleID: "m1", Status: execution.StatusFailedVulnerable, StartedAt: started, Duration: 150 * time.Millisecond}
	gated := execution.Outcome{ModuleID: "m2", Status: execution.StatusFailedError, Reason: "attack mode unsupported by module"}

	c.UnitStarted(ran)
	if got := testutil.ToFloat64(c.unitsRunning); got != 1 {
		t.Fatalf("units_running = %v, want 1", got)
	}
	c.UnitFinished(ran)
	c.UnitFinished(gated)

	if got := testutil.ToFloat64(c.unitsRunning); got != 0 {
		t.Fatalf("units_running = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.unitsTotal.WithLabelValues("m1", "failed-vulnerable")); got != 1 {
		t.Fatalf("vulnerable count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.unitsTotal.WithLabelValues("m2", "failed-error")); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.unitDuration); got != 1 {
		t.Fatalf("expected one duration series, got %d", got)
	}
}

func TestCollectorRunFinishedAndHandler(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.RunFinished(&execution.Report{
		Mode:      run.ModeVerify,
		Cancelled: true,
		Summary:   execution.Summary{SkippedUnloaded: 2, SkippedTargets: 3},
	})

	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("verify", "true")); got != 1 {
		t.Fatalf("runs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.unloadedTotal); got != 2 {
		t.Fatalf("modules_unloaded_total = %v, want 2", got)
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"poc_runs_total", "poc_modules_unloaded_total", "poc_targets_skipped_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
