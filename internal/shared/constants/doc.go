// Package constants centralizes defaults shared across the CLI and the
// orchestrator: file permissions, the per-unit timeout budget, the default
// dispatcher concurrency, and evidence capture limits.
package constants
