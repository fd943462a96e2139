package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

const defaultSandboxWorkdir = "/workspace"

// NewSandboxExecTool runs a command inside the caller's sandbox container.
// Only code_iteration jobs carry a sandbox id in their scope.
func NewSandboxExecTool(runner ports.SandboxRunner) *domain.Tool {
	return &domain.Tool{
		Name:        "sandbox_exec",
		Description: "Executes a shell command inside the job's sandbox container. Use it to build, test and commit code during code iteration.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to run (e.g., 'go test ./...').",
				},
				"workdir": map[string]interface{}{
					"type":        "string",
					"description": "Working directory inside the sandbox (default: /workspace).",
				},
			},
			Required: []string{"command"},
		},
		MinAccess: domain.AccessOwner,
		Timeout:   2 * time.Minute,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			if scope.SandboxID == "" {
				return nil, fmt.Errorf("no sandbox attached to this job")
			}
			command, ok := params["command"].(string)
			if !ok || strings.TrimSpace(command) == "" {
				return nil, fmt.Errorf("command is required and must be a non-empty string")
			}
			if isDangerousCommand(command) {
				return nil, fmt.Errorf("command blocked: matches dangerous command blocklist")
			}
			workdir, _ := params["workdir"].(string)
			if workdir == "" {
				workdir = defaultSandboxWorkdir
			}

			res, err := runner.Exec(ctx, scope.SandboxID, []string{"/bin/sh", "-c", command}, workdir)
			if err != nil {
				return nil, fmt.Errorf("sandbox exec: %w", err)
			}

			output := formatCommandOutput(res.Stdout, res.Stderr)
			if res.ExitCode != 0 {
				return nil, fmt.Errorf("command exited with code %d:\n%s", res.ExitCode, output)
			}
			if output == "" {
				return "(command completed with no output)", nil
			}
			return output, nil
		},
	}
}
