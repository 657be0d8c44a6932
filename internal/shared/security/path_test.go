package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name  string
		elems []string
		want  string
	}{
		{name: "report file", elems: []string{"run_1", "report.json"}, want: filepath.Join(base, "run_1", "report.json")},
		{name: "no elements", elems: nil, want: base},
		{name: "single dot", elems: []string{"."}, want: base},
		{name: "inner dot dot", elems: []string{"a", "b", "..", "c"}, want: filepath.Join(base, "a", "c")},
		{name: "messy but safe", elems: []string{"./a/./b/../c/./d"}, want: filepath.Join(base, "a", "c", "d")},
		{name: "absolute element stays inside", elems: []string{"/etc/passwd"}, want: filepath.Join(base, "etc", "passwd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(base, tt.elems...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveWithinBlocksEscape(t *testing.T) {
	base := t.TempDir()

	for _, elems := range [][]string{
		{".."},
		{"..", "etc", "passwd"},
		{"a", "..", "..", "etc"},
		{"../" + filepath.Base(base) + "-sibling"},
	} {
		_, err := ResolveWithin(base, elems...)
		if !errors.Is(err, ErrPathEscape) {
			t.Errorf("ResolveWithin(%v) = %v, want ErrPathEscape", elems, err)
		}
	}
}

func TestResolveWithinEmptyBase(t *testing.T) {
	_, err := ResolveWithin("", "report.json")
	if err == nil || !strings.Contains(err.Error(), "base directory is required") {
		t.Fatalf("expected base directory error, got %v", err)
	}
}

func TestResolveWithinUsablePath(t *testing.T) {
	base := t.TempDir()

	resolved, err := ResolveWithin(base, "sub", "file.txt")
	if err != nil {
		t.Fatalf("ResolveWithin returned error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		t.Fatalf("failed to create parent dirs: %v", err)
	}
	if err := os.WriteFile(resolved, []byte("ok"), 0o600); err != nil {
		t.Fatalf("failed to write resolved file: %v", err)
	}
}
