package cmd

import "fmt"

// Process exit codes.
const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitFindings  = 2
	ExitErrors    = 3
	ExitCancelled = 130 // shell convention for SIGINT
)

// ExitError asks Execute to terminate with Code. Err may be nil when the
// command already reported the reason.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ReportNotFoundError indicates a stored report lookup failure.
type ReportNotFoundError struct {
	ID string
}

func (e *ReportNotFoundError) Error() string {
	return fmt.Sprintf("report %s not found", e.ID)
}
