package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Status represents the lifecycle position of an execution unit
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusSucceeded        Status = "succeeded"
	StatusFailedVulnerable Status = "failed-vulnerable"
	StatusFailedError      Status = "failed-error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedVulnerable, StatusFailedError, StatusCancelled:
		return true
	}
	return false
}

// Unit is one (module, target) pairing and its outcome. A unit is owned by
// exactly one worker until it reaches a terminal state.
type Unit struct {
	index      int
	module     *poc.Module
	target     target.Target
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	err        error
	reason     string
	evidence   any
}

// NewUnit creates a pending unit at submission position index.
func NewUnit(index int, m *poc.Module, t target.Target) *Unit {
	return &Unit{
		index:  index,
		module: m,
		target: t,
		status: StatusPending,
	}
}

// Business methods

// Start moves the unit from pending to running.
func (u *Unit) Start() error {
	if u.status != StatusPending {
		return u.invalid(StatusRunning)
	}
	u.status = StatusRunning
	u.startedAt = time.Now()
	return nil
}

// Succeed records a "not vulnerable" verdict.
func (u *Unit) Succeed(evidence any) error {
	return u.finish(StatusSucceeded, nil, "", evidence)
}

// Vulnerable records a "vulnerable" verdict.
func (u *Unit) Vulnerable(evidence any) error {
	return u.finish(StatusFailedVulnerable, nil, "", evidence)
}

// Fail records an error outcome. A pending unit may fail directly, which is
// how mode gating rejects a unit without ever running it; such a unit keeps
// a zero StartedAt.
func (u *Unit) Fail(err error) error {
	if err == nil {
		err = sharedErrors.ErrExecution
	}
	return u.finish(StatusFailedError, err, failureReason(err), nil)
}

// Cancel marks a unit that was never started.
func (u *Unit) Cancel() error {
	if u.status != StatusPending {
		return u.invalid(StatusCancelled)
	}
	u.status = StatusCancelled
	u.err = sharedErrors.ErrUnitCancelled
	u.reason = sharedErrors.ErrUnitCancelled.Error()
	u.finishedAt = time.Now()
	return nil
}

func (u *Unit) finish(next Status, err error, reason string, evidence any) error {
	if u.status.Terminal() {
		return u.invalid(next)
	}
	if u.status == StatusPending && next != StatusFailedError {
		return u.invalid(next)
	}
	now := time.Now()
	u.status = next
	u.err = err
	u.reason = reason
	u.evidence = evidence
	u.finishedAt = now
	return nil
}

func (u *Unit) invalid(next Status) error {
	return fmt.Errorf("%w: %s -> %s", sharedErrors.ErrInvalidTransition, u.status, next)
}

func failureReason(err error) string {
	var modeErr *sharedErrors.ModeUnsupportedError
	switch {
	case errors.As(err, &modeErr):
		return sharedErrors.ErrModeUnsupported.Error()
	case errors.Is(err, sharedErrors.ErrUnitTimeout):
		return sharedErrors.ErrUnitTimeout.Error()
	case errors.Is(err, sharedErrors.ErrUnitCancelled):
		return sharedErrors.ErrUnitCancelled.Error()
	}
	var execErr *sharedErrors.ExecutionError
	if errors.As(err, &execErr) && execErr.Err != nil {
		return execErr.Err.Error()
	}
	return err.Error()
}

// Getters

func (u *Unit) Index() int            { return u.index }
func (u *Unit) Module() *poc.Module   { return u.module }
func (u *Unit) Target() target.Target { return u.target }
func (u *Unit) Status() Status        { return u.status }
func (u *Unit) StartedAt() time.Time  { return u.startedAt }
func (u *Unit) FinishedAt() time.Time { return u.finishedAt }
func (u *Unit) Err() error            { return u.err }
func (u *Unit) Reason() string        { return u.reason }
func (u *Unit) Evidence() any         { return u.evidence }

// Duration is zero until the unit has both started and finished.
func (u *Unit) Duration() time.Duration {
	if u.startedAt.IsZero() || u.finishedAt.IsZero() {
		return 0
	}
	return u.finishedAt.Sub(u.startedAt)
}

// Outcome is the immutable, serializable view of a terminal unit handed to
// report consumers.
type Outcome struct {
	Index      int           `json:"index"`
	ModuleID   string        `json:"module"`
	ModuleName string        `json:"module_name,omitempty"`
	Target     string        `json:"target"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Reason     string        `json:"reason,omitempty"`
	Evidence   any           `json:"evidence,omitempty"`
}

// Outcome snapshots the unit.
func (u *Unit) Outcome() Outcome {
	o := Outcome{
		Index:      u.index,
		Target:     u.target.String(),
		Status:     u.status,
		StartedAt:  u.startedAt,
		FinishedAt: u.finishedAt,
		Duration:   u.Duration(),
		Reason:     u.reason,
		Evidence:   u.evidence,
	}
	if u.module != nil {
		o.ModuleID = u.module.ID
		o.ModuleName = u.module.Name
	}
	return o
}
