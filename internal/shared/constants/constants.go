package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// DefaultTimeoutSeconds is the per-unit network budget when none is configured.
	DefaultTimeoutSeconds = 30
	// DefaultThreads is the dispatcher concurrency when none is configured.
	DefaultThreads = 1
	// EvidenceCaptureLimitBytes caps how much of a response body a checker keeps as evidence.
	EvidenceCaptureLimitBytes = 2048
	// DefaultCommandTimeout bounds external checkers that do not declare a timeout.
	DefaultCommandTimeout = 10 * time.Second
	// MaxResponseBodyBytes caps how much of a response body an HTTP phase reads.
	MaxResponseBodyBytes = 1 << 20
	// DefaultUserAgent is sent when neither an agent nor random agents are configured.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 poc-cli"
)
