package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// RegistryInvoker runs tool calls against a ToolRegistry. Every failure,
// including a panicking tool, comes back as an unsuccessful ToolResult.
type RegistryInvoker struct {
	logger   *slog.Logger
	registry *domain.ToolRegistry
}

func NewRegistryInvoker(logger *slog.Logger, registry *domain.ToolRegistry) *RegistryInvoker {
	return &RegistryInvoker{logger: logger, registry: registry}
}

// Schemas lists the tools the caller may see.
func (i *RegistryInvoker) Schemas(scope domain.CallerScope) []domain.ToolSchema {
	return i.registry.SchemasFor(scope.AccessLevel)
}

// Invoke executes one tool call for the given caller.
func (i *RegistryInvoker) Invoke(ctx context.Context, call domain.ToolCallRequest, scope domain.CallerScope) (result domain.ToolResult) {
	result.ToolCallID = call.ID

	tool, suggestion, ok := i.registry.Lookup(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		if suggestion != "" {
			result.Error += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
		return result
	}
	if scope.AccessLevel < tool.MinAccess {
		result.Error = fmt.Sprintf("permission denied: %s requires %s access", tool.Name, tool.MinAccess)
		return result
	}

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("tool panicked", "tool", call.Name, "job_id", scope.JobID, "panic", r)
			result.Success = false
			result.Data = nil
			result.Error = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	data, err := tool.Execute(ctx, scope, args)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}
