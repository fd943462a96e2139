package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const MemoryFileName = "MEMORY.md"

var memoryCategories = []string{"preference", "decision", "fact", "context"}

// memoryMu serializes appends; concurrent jobs of one owner share the file.
var memoryMu sync.Mutex

func memoryPath(ws *WorkspaceManager, scope domain.CallerScope) (string, error) {
	dir, err := ws.OwnerDir(scope.UserID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, MemoryFileName), nil
}

// NewRememberTool returns a tool that appends a fact to the caller's long-term memory.
func NewRememberTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "remember",
		Description: "Saves a significant fact, preference, or decision to the owner's long-term memory so later jobs can recall it.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Category of the memory: 'preference', 'decision', 'fact', 'context'",
					"enum":        memoryCategories,
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The concise content to remember.",
				},
			},
			Required: []string{"category", "content"},
		},
		MinAccess: domain.AccessOwner,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			category, _ := params["category"].(string)
			content, _ := params["content"].(string)
			content = strings.TrimSpace(content)
			if category == "" || content == "" {
				return nil, fmt.Errorf("category and content are required")
			}
			valid := false
			for _, c := range memoryCategories {
				if c == category {
					valid = true
					break
				}
			}
			if !valid {
				return nil, fmt.Errorf("unknown category %q", category)
			}

			path, err := memoryPath(ws, scope)
			if err != nil {
				return nil, err
			}
			entry := fmt.Sprintf("- [%s] **%s**: %s\n", time.Now().UTC().Format("2006-01-02"), strings.ToUpper(category), strings.ReplaceAll(content, "\n", " "))

			memoryMu.Lock()
			defer memoryMu.Unlock()
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open memory file: %w", err)
			}
			defer f.Close()
			if _, err := f.WriteString(entry); err != nil {
				return nil, fmt.Errorf("failed to write to memory: %w", err)
			}
			return "Memory saved.", nil
		},
	}
}

// NewRecallTool returns a tool that reads the caller's long-term memory.
func NewRecallTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "recall",
		Description: "Reads the owner's long-term memory: past decisions, preferences, and context. Optionally filters by category.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Only return entries of this category.",
					"enum":        memoryCategories,
				},
			},
			Required: []string{},
		},
		MinAccess: domain.AccessCollaborator,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			category, _ := params["category"].(string)

			path, err := memoryPath(ws, scope)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return "Memory is empty.", nil
				}
				return nil, fmt.Errorf("failed to read memory: %w", err)
			}

			if category == "" {
				return string(data), nil
			}
			marker := "**" + strings.ToUpper(category) + "**:"
			var kept []string
			for _, line := range strings.Split(string(data), "\n") {
				if strings.Contains(line, marker) {
					kept = append(kept, line)
				}
			}
			if len(kept) == 0 {
				return fmt.Sprintf("No %s entries in memory.", category), nil
			}
			return strings.Join(kept, "\n"), nil
		},
	}
}
