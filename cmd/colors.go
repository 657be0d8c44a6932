package cmd

import (
	"github.com/fatih/color"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorVuln    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func formatStatusWithColor(status execution.Status) string {
	s := string(status)
	switch status {
	case execution.StatusSucceeded:
		return colorSuccess(s)
	case execution.StatusFailedVulnerable:
		return colorVuln(s)
	case execution.StatusFailedError:
		return colorError(s)
	case execution.StatusCancelled:
		return colorWarn(s)
	default:
		return s
	}
}
