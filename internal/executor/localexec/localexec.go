// Package localexec provides an executor that runs a task's description as
// a local command, restricted to an allowlist.
package localexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/fentz26/hive/internal/executor"
	"github.com/fentz26/hive/internal/models"
)

// Config defines the local executor configuration.
type Config struct {
	// WorkDir is the directory commands run in. Empty means the daemon's cwd.
	WorkDir string `yaml:"work_dir" toml:"work_dir"`
	// Allow maps a command to its permitted subcommands.
	Allow map[string][]string `yaml:"allow" toml:"allow"`
	// MaxOutput caps the advisory output returned, in bytes.
	MaxOutput int `yaml:"max_output" toml:"max_output"`
}

// DefaultConfig returns the default allowlist.
func DefaultConfig() Config {
	return Config{
		Allow: map[string][]string{
			"go":  {"test", "vet"},
			"git": {"diff", "status"},
		},
		MaxOutput: 4096,
	}
}

// LocalExec runs the first line of a task description as a command.
// Exit status zero completes the task, anything else marks it ERROR.
type LocalExec struct {
	cfg Config
}

// New creates a new LocalExec executor.
func New(cfg Config) *LocalExec {
	if cfg.Allow == nil {
		cfg.Allow = DefaultConfig().Allow
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultConfig().MaxOutput
	}
	return &LocalExec{cfg: cfg}
}

// Name returns the executor identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.cfg.Allow[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	for _, allowed := range allowedSubcmds {
		if args[0] == allowed {
			return true
		}
	}
	return false
}

// Parse extracts the command line from a task description.
func Parse(description string) (string, []string, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return fields[0], fields[1:], nil
}

// Execute runs the task's command and records the outcome as the task state.
func (l *LocalExec) Execute(ctx context.Context, task models.Task) (string, error) {
	cmd, args, err := Parse(task.Description)
	if err != nil {
		return "", err
	}
	if !l.IsAllowed(cmd, args) {
		return "", fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.cfg.WorkDir != "" {
		execCmd.Dir = l.cfg.WorkDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	state := models.StateComplete
	if err := execCmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return "", fmt.Errorf("exec error: %w", err)
		}
		state = models.StateError
	}

	if _, err := executor.SetState(ctx, task.ID, state); err != nil {
		return "", err
	}

	out := stdout.String()
	if state == models.StateError {
		out = stderr.String()
	}
	return truncate(out, l.cfg.MaxOutput), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
