package poc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Capability is a tagged set of what a module can be dispatched for.
type Capability uint8

const (
	CapVerify Capability = 1 << iota
	CapAttack
)

// Has reports whether every bit of other is present.
func (c Capability) Has(other Capability) bool { return c&other == other }

func (c Capability) String() string {
	var parts []string
	if c.Has(CapVerify) {
		parts = append(parts, "verify")
	}
	if c.Has(CapAttack) {
		parts = append(parts, "attack")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Supports reports whether the capability set can run in mode.
func (c Capability) Supports(mode run.Mode) bool {
	switch mode {
	case run.ModeAttack:
		return c.Has(CapAttack)
	default:
		return c.Has(CapVerify)
	}
}

// Verdict is what check logic returns for one target.
type Verdict struct {
	Vulnerable bool `json:"vulnerable"`
	Evidence   any  `json:"evidence,omitempty"`
}

// Checker is the fixed two-method contract every module implements.
// Implementations must be safe for concurrent use: one module handle is
// invoked by many workers at once. Attack is only called when the module
// declares CapAttack.
type Checker interface {
	Verify(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error)
	Attack(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error)
}

// Info is descriptive metadata carried by a POC definition.
type Info struct {
	VulID       string   `json:"vul_id,omitempty" yaml:"vul_id"`
	Author      string   `json:"author,omitempty" yaml:"author"`
	Severity    string   `json:"severity,omitempty" yaml:"severity"`
	Description string   `json:"description,omitempty" yaml:"description"`
	References  []string `json:"references,omitempty" yaml:"references"`
}

// Module is a loaded check module. It is read-only after load.
type Module struct {
	ID           string
	Name         string
	Source       string
	Capabilities Capability
	Info         Info
	Checker      Checker
}

// Validate enforces the load-time contract: a checker and verify capability.
func (m *Module) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: module id", sharedErrors.ErrMissingRequired)
	}
	if m.Checker == nil {
		return fmt.Errorf("%w: checker", sharedErrors.ErrMissingRequired)
	}
	if !m.Capabilities.Has(CapVerify) {
		return sharedErrors.ErrNoVerifyCapability
	}
	return nil
}

// Invoke dispatches to the capability matching mode. Callers must gate on
// Capabilities.Supports first; Invoke refuses unsupported modes without
// touching the checker.
func (m *Module) Invoke(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error) {
	if !m.Capabilities.Supports(cfg.Mode) {
		return Verdict{}, &sharedErrors.ModeUnsupportedError{Module: m.ID, Mode: cfg.Mode.String()}
	}
	if cfg.Mode == run.ModeAttack {
		return m.Checker.Attack(ctx, t, cfg)
	}
	return m.Checker.Verify(ctx, t, cfg)
}

// Funcs adapts plain functions to Checker. A nil AttackFn makes Attack
// report ErrModeUnsupported.
type Funcs struct {
	VerifyFn func(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error)
	AttackFn func(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error)
}

func (f Funcs) Verify(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error) {
	if f.VerifyFn == nil {
		return Verdict{}, errors.New("verify not implemented")
	}
	return f.VerifyFn(ctx, t, cfg)
}

func (f Funcs) Attack(ctx context.Context, t target.Target, cfg *run.Config) (Verdict, error) {
	if f.AttackFn == nil {
		return Verdict{}, sharedErrors.ErrModeUnsupported
	}
	return f.AttackFn(ctx, t, cfg)
}

// Capabilities derives the capability set from which functions are present.
func (f Funcs) Capabilities() Capability {
	var c Capability
	if f.VerifyFn != nil {
		c |= CapVerify
	}
	if f.AttackFn != nil {
		c |= CapAttack
	}
	return c
}
