package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
	"github.com/khanhnv2901/poc-cli/internal/shared/security"
)

// DataDirEnv is the variable poc-cli reads its data directory from.
const DataDirEnv = "POC_CLI_DATA_DIR"

// TestEnv holds an isolated data directory plus the files and servers a
// command test needs.
type TestEnv struct {
	TmpDir       string
	DataDir      string
	cleanupFuncs []func()
	t            *testing.T
}

// NewTestEnv creates a new test environment with automatic cleanup.
// HOME and the data directory point into the test's temp dir so no
// operator config or state leaks into the run.
// Usage:
//
//	env := testutil.NewTestEnv(t)
//	defer env.Cleanup()
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir()
	env := &TestEnv{
		TmpDir:  tmpDir,
		DataDir: filepath.Join(tmpDir, "data"),
		t:       t,
	}
	if err := os.MkdirAll(env.DataDir, constants.DefaultDirPerm); err != nil {
		t.Fatalf("Failed to create data directory: %v", err)
	}

	t.Setenv(DataDirEnv, env.DataDir)
	t.Setenv("HOME", tmpDir)
	return env
}

// AddCleanup adds a cleanup function to be called when Cleanup() is called.
// Cleanup functions are called in reverse order (LIFO).
func (e *TestEnv) AddCleanup(fn func()) {
	e.cleanupFuncs = append([]func(){fn}, e.cleanupFuncs...)
}

// Cleanup runs all registered cleanup functions.
func (e *TestEnv) Cleanup() {
	for _, fn := range e.cleanupFuncs {
		fn()
	}
	e.cleanupFuncs = nil
}

// ReportsDir is the default report store inside the data directory.
func (e *TestEnv) ReportsDir() string {
	return filepath.Join(e.DataDir, "reports")
}

// ModulesDir is the default POC directory inside the data directory.
func (e *TestEnv) ModulesDir() string {
	return filepath.Join(e.DataDir, "pocs")
}

// CreateFile creates a file in the test environment with the given content.
// The file path is relative to the test's temporary directory.
func (e *TestEnv) CreateFile(relativePath string, content []byte) string {
	e.t.Helper()

	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
		e.t.Fatalf("Failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(fullPath, content, constants.DefaultFilePerm); err != nil {
		e.t.Fatalf("Failed to create file %s: %v", fullPath, err)
	}
	return fullPath
}

// WritePOC writes a module definition under pocs/ in the temp dir.
func (e *TestEnv) WritePOC(name, definition string) string {
	e.t.Helper()
	return e.CreateFile(filepath.Join("pocs", name), []byte(definition))
}

// WriteTargets writes a line-delimited target file.
func (e *TestEnv) WriteTargets(name string, lines ...string) string {
	e.t.Helper()
	return e.CreateFile(name, []byte(strings.Join(lines, "\n")+"\n"))
}

// StartTarget serves handler for the duration of the test.
func (e *TestEnv) StartTarget(handler http.Handler) *httptest.Server {
	e.t.Helper()
	srv := httptest.NewServer(handler)
	e.AddCleanup(srv.Close)
	return srv
}

// FileExists checks if a file exists in the test environment.
func (e *TestEnv) FileExists(relativePath string) bool {
	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	_, err := os.Stat(fullPath)
	return err == nil
}

// MustExist fails the test if the file does not exist.
func (e *TestEnv) MustExist(relativePath string) {
	e.t.Helper()
	if !e.FileExists(relativePath) {
		e.t.Fatalf("File %s should exist but does not", relativePath)
	}
}

func resolveTmpPath(baseDir, relativePath string, t *testing.T) string {
	t.Helper()
	path, err := security.ResolveWithin(baseDir, relativePath)
	if err != nil {
		t.Fatalf("invalid test path %s: %v", relativePath, err)
	}
	return path
}
