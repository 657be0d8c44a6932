package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/domain/run"
	"github.com/khanhnv2901/poc-cli/internal/domain/target"
	"github.com/khanhnv2901/poc-cli/internal/shared/constants"
)

// CommandSpec is the declarative form of an external command phase. The
// command receives the target URL as its last argument and must print a
// single JSON object {"vulnerable": bool, "evidence": any, "error": string}.
type CommandSpec struct {
	Exec    string            `json:"exec" yaml:"exec"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
	Timeout int               `json:"timeout,omitempty" yaml:"timeout"`
}

// commandOutput is the JSON contract of an external checker.
type commandOutput struct {
	Vulnerable bool   `json:"vulnerable"`
	Evidence   any    `json:"evidence,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CommandPhase runs an external executable per target.
type CommandPhase struct {
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
}

// NewCommandPhase builds a command phase. A relative executable path that
// contains a separator is resolved against baseDir, the directory of the
// definition file.
func NewCommandPhase(spec CommandSpec, baseDir string) (*CommandPhase, error) {
	command := strings.TrimSpace(spec.Exec)
	if command == "" {
		return nil, fmt.Errorf("command phase: exec is empty")
	}
	if !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) && baseDir != "" {
		command = filepath.Join(baseDir, command)
	}

	timeout := time.Duration(spec.Timeout) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultCommandTimeout
	}
	return &CommandPhase{
		command: command,
		args:    spec.Args,
		env:     spec.Env,
		timeout: timeout,
	}, nil
}

// Run executes the command against t.
func (c *CommandPhase) Run(ctx context.Context, t target.Target, cfg *run.Config) (poc.Verdict, error) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{}, c.args...)
	args = append(args, t.String())

	cmd := exec.CommandContext(checkCtx, c.command, args...) // #nosec G204 -- executable comes from an operator-supplied POC definition.
	cmd.Env = append(os.Environ(), c.environ(t, cfg)...)
	cmd.WaitDelay = time.Second

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return poc.Verdict{}, errors.New(strings.TrimSpace(string(exitErr.Stderr)))
		}
		return poc.Verdict{}, err
	}

	var out commandOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return poc.Verdict{}, fmt.Errorf("invalid checker output: %w", err)
	}
	if out.Error != "" {
		return poc.Verdict{}, errors.New(out.Error)
	}
	return poc.Verdict{Vulnerable: out.Vulnerable, Evidence: capEvidence(out.Evidence)}, nil
}

func (c *CommandPhase) environ(t target.Target, cfg *run.Config) []string {
	env := []string{
		"POC_TARGET=" + t.String(),
		"POC_MODE=" + cfg.Mode.String(),
		"POC_USER_AGENT=" + UserAgent(cfg),
		fmt.Sprintf("POC_TIMEOUT=%d", int(cfg.Timeout/time.Second)),
	}
	if proxy := ProxyURL(cfg); proxy != nil {
		env = append(env, "POC_PROXY="+proxy.String())
	}
	if cfg.Cookie != "" {
		env = append(env, "POC_COOKIE="+cfg.Cookie)
	}
	for k, v := range c.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
