package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Configuration errors
	ErrConfig          = errors.New("configuration error")
	ErrNoTargets       = errors.New("no valid targets")
	ErrNoModules       = errors.New("no loadable modules")
	ErrInvalidTarget   = errors.New("invalid target url")
	ErrInvalidMode     = errors.New("invalid run mode")
	ErrMissingRequired = errors.New("missing required field")

	// Module errors
	ErrModuleLoad         = errors.New("module load failed")
	ErrNoVerifyCapability = errors.New("no verify capability")
	ErrDuplicateModule    = errors.New("duplicate module id")
	ErrModeUnsupported    = errors.New("attack mode unsupported by module")

	// Execution errors
	ErrExecution         = errors.New("execution failed")
	ErrUnitTimeout       = errors.New("timeout")
	ErrUnitCancelled     = errors.New("cancelled")
	ErrInvalidTransition = errors.New("invalid unit status transition")

	// Repository errors
	ErrReportNotFound        = errors.New("report not found")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
)

// ConfigError aborts a run before any unit is dispatched.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

// NewConfigError wraps err as a ConfigError for the named option.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// LoadError records why a single module file could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrModuleLoad, e.Err} }

// ModeUnsupportedError is recorded on a unit whose module cannot run in the requested mode.
type ModeUnsupportedError struct {
	Module string
	Mode   string
}

func (e *ModeUnsupportedError) Error() string {
	return fmt.Sprintf("module %s: %s mode unsupported by module", e.Module, e.Mode)
}

func (e *ModeUnsupportedError) Unwrap() error { return ErrModeUnsupported }

// ExecutionError wraps any failure raised by check logic for one unit.
type ExecutionError struct {
	Module string
	Target string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("module %s on %s: %v", e.Module, e.Target, e.Err)
}

func (e *ExecutionError) Unwrap() []error { return []error{ErrExecution, e.Err} }

// IsConfigError reports whether err should abort the whole run.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}
