package checker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandPhaseContract(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "check.sh", `echo "{\"vulnerable\": true, \"evidence\": \"$1 $2 $POC_MODE $POC_FLAVOR\"}"`)

	phase, err := NewCommandPhase(CommandSpec{
		Exec: "./check.sh",
		Args: []string{"--dump"},
		Env:  map[string]string{"POC_FLAVOR": "mint"},
	}, dir)
	if err != nil {
		t.Fatalf("NewCommandPhase() error = %v", err)
	}

	cfg := testConfig()
	cfg.Mode = run.ModeAttack
	verdict, err := phase.Run(context.Background(), target.MustParse("http://a.test"), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !verdict.Vulnerable {
		t.Fatal("expected vulnerable verdict")
	}
	if verdict.Evidence != "--dump http://a.test/ attack mint" {
		t.Fatalf("unexpected evidence %q", verdict.Evidence)
	}
}

func TestCommandPhaseErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"reported error", `echo '{"error": "target unreachable"}'`, "target unreachable"},
		{"stderr on failure", `echo "boom" >&2; exit 3`, "boom"},
		{"invalid output", `echo "not json"`, "invalid checker output"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, dir, "s"+string(rune('a'+i))+".sh", tt.body)
			phase, err := NewCommandPhase(CommandSpec{Exec: path}, "")
			if err != nil {
				t.Fatalf("NewCommandPhase() error = %v", err)
			}
			_, err = phase.Run(context.Background(), target.MustParse("http://a.test"), testConfig())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Run() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCommandPhaseHonoursContext(t *testing.T) {
	path := writeScript(t, t.TempDir(), "slow.sh", "exec sleep 5")
	phase, err := NewCommandPhase(CommandSpec{Exec: path, Timeout: 30}, "")
	if err != nil {
		t.Fatalf("NewCommandPhase() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := phase.Run(ctx, target.MustParse("http://a.test"), testConfig()); err == nil {
		t.Fatal("expected error when context expires")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("command was not killed on context expiry")
	}
}

func TestNewCommandPhaseValidation(t *testing.T) {
	if _, err := NewCommandPhase(CommandSpec{}, ""); err == nil {
		t.Fatal("expected error for empty exec")
	}
	phase, err := NewCommandPhase(CommandSpec{Exec: "python3"}, "/defs")
	if err != nil {
		t.Fatalf("NewCommandPhase() error = %v", err)
	}
	if phase.command != "python3" {
		t.Fatalf("bare command must be looked up on PATH, got %q", phase.command)
	}
	if phase.timeout <= 0 {
		t.Fatal("expected default timeout")
	}
}
