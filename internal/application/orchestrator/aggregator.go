package orchestrator

import (
	"fmt"
	"sync"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
)

// Observer receives unit transitions for a live view. Calls arrive from
// worker goroutines concurrently, so implementations must be safe for
// concurrent use and must not block for long.
type Observer interface {
	UnitStarted(o execution.Outcome)
	UnitFinished(o execution.Outcome)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	OnStarted  func(o execution.Outcome)
	OnFinished func(o execution.Outcome)
}

func (f ObserverFuncs) UnitStarted(o execution.Outcome) {
	if f.OnStarted != nil {
		f.OnStarted(o)
	}
}

func (f ObserverFuncs) UnitFinished(o execution.Outcome) {
	if f.OnFinished != nil {
		f.OnFinished(o)
	}
}

// Aggregator collects terminal units in completion order and keeps running
// counts. Outcomes are returned in submission order.
type Aggregator struct {
	mu        sync.Mutex
	slots     []*execution.Outcome
	summary   execution.Summary
	completed int
	observers []Observer
}

// NewAggregator sizes the aggregator for total submitted units.
func NewAggregator(total int, observers ...Observer) *Aggregator {
	return &Aggregator{
		slots:     make([]*execution.Outcome, total),
		observers: observers,
	}
}

// Record accepts a unit that reached a terminal state. Non-terminal units
// and double records are rejected so partial state never reaches a report.
func (a *Aggregator) Record(u *execution.Unit) error {
	if !u.Status().Terminal() {
		return fmt.Errorf("unit %d is %s, not terminal", u.Index(), u.Status())
	}
	o := u.Outcome()

	a.mu.Lock()
	if o.Index < 0 || o.Index >= len(a.slots) {
		a.mu.Unlock()
		return fmt.Errorf("unit index %d out of range", o.Index)
	}
	if a.slots[o.Index] != nil {
		a.mu.Unlock()
		return fmt.Errorf("unit %d already recorded", o.Index)
	}
	a.slots[o.Index] = &o
	a.summary.Count(o.Status)
	a.completed++
	a.mu.Unlock()

	for _, obs := range a.observers {
		obs.UnitFinished(o)
	}
	return nil
}

// Started forwards a running transition to observers.
func (a *Aggregator) Started(u *execution.Unit) {
	o := u.Outcome()
	for _, obs := range a.observers {
		obs.UnitStarted(o)
	}
}

// Completed returns how many units have been recorded.
func (a *Aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Summary returns the running counts.
func (a *Aggregator) Summary() execution.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

// Outcomes returns recorded outcomes in submission order. Mid-run it is a
// flush of everything finished so far.
func (a *Aggregator) Outcomes() []execution.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]execution.Outcome, 0, a.completed)
	for _, o := range a.slots {
		if o != nil {
			out = append(out, *o)
		}
	}
	return out
}
