package execution

import (
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
)

// Summary holds run-level counts per outcome category.
type Summary struct {
	Total           int `json:"total"`
	Vulnerable      int `json:"vulnerable"`
	Clean           int `json:"clean"`
	Errored         int `json:"errored"`
	Cancelled       int `json:"cancelled"`
	SkippedUnloaded int `json:"skipped_unloaded"`
	SkippedTargets  int `json:"skipped_targets"`
}

// Count adds one terminal status to the summary.
func (s *Summary) Count(status Status) {
	switch status {
	case StatusSucceeded:
		s.Clean++
	case StatusFailedVulnerable:
		s.Vulnerable++
	case StatusFailedError:
		s.Errored++
	case StatusCancelled:
		s.Cancelled++
	default:
		return
	}
	s.Total++
}

// Report is the finalized outcome of one run: unit outcomes in submission
// order plus summary counts.
type Report struct {
	ID         string         `json:"id"`
	Mode       run.Mode       `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Cancelled  bool           `json:"cancelled"`
	Modules    []string       `json:"modules"`
	Targets    []string       `json:"targets"`
	Units      []Outcome      `json:"units"`
	Summary    Summary        `json:"summary"`
	Unloaded   []poc.Unloaded `json:"unloaded,omitempty"`
}

// HasFindings reports whether any unit found a vulnerability.
func (r *Report) HasFindings() bool { return r.Summary.Vulnerable > 0 }

// HasErrors reports whether any unit ended in error or was cancelled.
func (r *Report) HasErrors() bool { return r.Summary.Errored > 0 || r.Summary.Cancelled > 0 }

// Findings returns the vulnerable outcomes in submission order.
func (r *Report) Findings() []Outcome {
	var out []Outcome
	for _, u := range r.Units {
		if u.Status == StatusFailedVulnerable {
			out = append(out, u)
		}
	}
	return out
}

// Duration of the whole run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
