package subagents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"memfuse/internal/agent"
	"memfuse/internal/config"
)

// ShellTool runs a single allowlisted command with a bounded timeout and
// captured, size-limited output, in the teacher's exec.CommandContext +
// stdout/stderr buffer pattern. Which commands are safe to allow and how
// the sandbox is actually enforced (containers, seccomp, chroot, ...) is a
// deployment concern left to ShellConfig; this tool only enforces the
// allowlist and resource bounds it is configured with.
type ShellTool struct {
	cfg     config.ShellConfig
	allowed map[string]struct{}
}

// NewShellTool builds the shell tool from its sandboxing config.
func NewShellTool(cfg config.ShellConfig) *ShellTool {
	allowed := make(map[string]struct{}, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = struct{}{}
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 65536
	}
	return &ShellTool{cfg: cfg, allowed: allowed}
}

func (t *ShellTool) Describe() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "shell",
		Description: "Run a single allowlisted shell command and return its stdout/stderr/exit code.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"args":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	}
}

var errCommandNotAllowed = errors.New("shell: command not on the allowlist")

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell: missing required arg %q", "command")
	}
	if _, ok := t.allowed[command]; !ok {
		return map[string]any{"ok": false, "error": errCommandNotAllowed.Error()}, nil
	}
	cmdArgs, err := stringSlice(args["args"])
	if err != nil && args["args"] != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, cmdArgs...)
	if t.cfg.WorkDir != "" {
		cmd.Dir = t.cfg.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return map[string]any{"ok": false, "error": runErr.Error()}, nil
		}
	}

	return map[string]any{
		"ok":        true,
		"stdout":    truncate(stdout.String(), t.cfg.MaxOutputBytes),
		"stderr":    truncate(stderr.String(), t.cfg.MaxOutputBytes),
		"exit_code": exitCode,
	}, nil
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}
