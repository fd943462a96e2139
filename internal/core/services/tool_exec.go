package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// dangerousCommands is a blocklist of commands that could damage the host system.
var dangerousCommands = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	"init 0",
	"init 6",
	":(){ :|:& };:", // fork bomb
	"format c:",
	"> /dev/sda",
	"mv / ",
	"chmod -R 777 /",
	"chown -R ",
}

// isDangerousCommand checks if a command matches the blocklist.
func isDangerousCommand(cmd string) bool {
	lower := strings.ToLower(strings.TrimSpace(cmd))
	for _, dangerous := range dangerousCommands {
		if strings.Contains(lower, strings.ToLower(dangerous)) {
			return true
		}
	}
	return false
}

// NewExecTool creates the exec tool. Commands run inside the job workspace
// with a clean environment and a 30s default timeout.
func NewExecTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "exec",
		Description: "Executes a shell command inside the job workspace with a 30-second default timeout. Use for ls, cat, grep, git, go test, etc.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The shell command to execute (e.g., 'ls -la', 'go test ./...').",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "number",
					"description": "Optional timeout in seconds (default: 30, max: 120).",
				},
			},
			Required: []string{"command"},
		},
		MinAccess: domain.AccessOwner,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			command, ok := params["command"].(string)
			if !ok || strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("command is required and must be a non-empty string")
			}

			timeoutSec := 30.0
			if t, ok := params["timeout_seconds"].(float64); ok && t > 0 {
				timeoutSec = t
			}
			if timeoutSec > 120 {
				timeoutSec = 120 // Hard cap
			}

			if isDangerousCommand(command) {
				return nil, fmt.Errorf("command blocked: matches dangerous command blocklist")
			}

			workDir, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}

			execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec*float64(time.Second)))
			defer cancel()

			cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)
			cmd.Dir = workDir

			// Clean environment: only pass safe vars
			cmd.Env = []string{
				fmt.Sprintf("HOME=%s", workDir),
				fmt.Sprintf("PWD=%s", workDir),
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
				"LANG=en_US.UTF-8",
				"TERM=xterm",
			}

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			output := formatCommandOutput(stdout.String(), stderr.String())

			if runErr != nil {
				if execCtx.Err() == context.DeadlineExceeded {
					return nil, fmt.Errorf("command timed out after %.0fs", timeoutSec)
				}
				if output != "" {
					return nil, fmt.Errorf("command failed (exit %v):\n%s", runErr, output)
				}
				return nil, fmt.Errorf("command failed: %v", runErr)
			}

			if output == "" {
				return "(command completed with no output)", nil
			}
			return output, nil
		},
	}
}

// formatCommandOutput joins stdout and stderr, truncating each.
func formatCommandOutput(stdout, stderr string) string {
	var result strings.Builder
	if stdout != "" {
		if len(stdout) > 8192 {
			stdout = stdout[:8192] + "\n... (output truncated at 8KB)"
		}
		result.WriteString(stdout)
	}
	if stderr != "" {
		if len(stderr) > 4096 {
			stderr = stderr[:4096] + "\n... (stderr truncated at 4KB)"
		}
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR: ")
		result.WriteString(stderr)
	}
	return result.String()
}
