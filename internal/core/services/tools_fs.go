package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const maxReadBytes = 256 * 1024

// ensurePathIsSafe strictly validates that the requested path is within the workspace root.
func ensurePathIsSafe(root, requestedPath string) (string, error) {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(filepath.Join(cleanRoot, requestedPath))

	rel, err := filepath.Rel(cleanRoot, cleanPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("security violation: path %q is outside workspace root", requestedPath)
	}
	return cleanPath, nil
}

// jobRoot resolves and creates the calling job's workspace.
func jobRoot(ws *WorkspaceManager, scope domain.CallerScope) (string, error) {
	if scope.JobID == "" {
		return "", fmt.Errorf("no job in caller scope")
	}
	return ws.PrepareWorkspace(scope.JobID)
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return s, nil
}

// NewReadFileTool creates the read_file tool
func NewReadFileTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "read_file",
		Description: "Reads the content of a file within the job workspace. Returns text content.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file (e.g., 'src/main.go').",
				},
			},
			Required: []string{"path"},
		},
		MinAccess: domain.AccessCollaborator,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			root, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}
			safePath, err := ensurePathIsSafe(root, path)
			if err != nil {
				return nil, err
			}

			content, err := os.ReadFile(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", path)
				}
				return nil, fmt.Errorf("failed to read file: %w", err)
			}
			if len(content) > maxReadBytes {
				return string(content[:maxReadBytes]) + "\n... (file truncated at 256KB)", nil
			}
			return string(content), nil
		},
	}
}

// NewWriteFileTool creates the write_file tool
func NewWriteFileTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "write_file",
		Description: "Writes content to a file. Overwrites if exists, creates directories if needed.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Text content to write.",
				},
			},
			Required: []string{"path", "content"},
		},
		MinAccess: domain.AccessOwner,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			content, err := stringParam(params, "content")
			if err != nil {
				return nil, err
			}
			root, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}
			safePath, err := ensurePathIsSafe(root, path)
			if err != nil {
				return nil, err
			}

			if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directories: %w", err)
			}
			if err := os.WriteFile(safePath, []byte(content), 0644); err != nil {
				return nil, fmt.Errorf("failed to write file: %w", err)
			}

			return fmt.Sprintf("wrote %s (%d bytes)", path, len(content)), nil
		},
	}
}

// NewListFilesTool creates the list_files tool
func NewListFilesTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "list_files",
		Description: "Lists files and directories in a workspace path. Directories end with '/'.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to list (default: root).",
				},
			},
			Required: []string{},
		},
		MinAccess: domain.AccessCollaborator,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			path, _ := params["path"].(string) // Optional
			if path == "" {
				path = "."
			}
			root, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}
			safePath, err := ensurePathIsSafe(root, path)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("directory not found: %s", path)
				}
				return nil, fmt.Errorf("failed to list directory: %w", err)
			}

			results := make([]string, 0, len(entries))
			for _, e := range entries {
				suffix := ""
				if e.IsDir() {
					suffix = "/"
				}
				results = append(results, e.Name()+suffix)
			}

			if len(results) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(results, "\n"), nil
		},
	}
}

// NewEditFileTool creates the edit_file tool (search & replace)
func NewEditFileTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "edit_file",
		Description: "Performs a search-and-replace edit in an existing file. Finds the exact 'search' string and replaces it with the 'replace' string. Only replaces the first occurrence.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file to edit.",
				},
				"search": map[string]interface{}{
					"type":        "string",
					"description": "The exact text to find in the file.",
				},
				"replace": map[string]interface{}{
					"type":        "string",
					"description": "The text to replace the search string with.",
				},
			},
			Required: []string{"path", "search", "replace"},
		},
		MinAccess: domain.AccessOwner,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			path, _ := params["path"].(string)
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			if path == "" || search == "" {
				return nil, fmt.Errorf("path and search are required")
			}

			root, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}
			safePath, err := ensurePathIsSafe(root, path)
			if err != nil {
				return nil, err
			}

			content, err := os.ReadFile(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", path)
				}
				return nil, fmt.Errorf("failed to read file: %w", err)
			}

			original := string(content)
			if !strings.Contains(original, search) {
				return nil, fmt.Errorf("search string not found in file %s", path)
			}
			edited := strings.Replace(original, search, replace, 1)

			if err := os.WriteFile(safePath, []byte(edited), 0644); err != nil {
				return nil, fmt.Errorf("failed to write edited file: %w", err)
			}

			return fmt.Sprintf("Successfully edited %s (replaced %d bytes with %d bytes)", path, len(search), len(replace)), nil
		},
	}
}

// NewDeleteFileTool creates the delete_file tool. Directories are refused.
func NewDeleteFileTool(ws *WorkspaceManager) *domain.Tool {
	return &domain.Tool{
		Name:        "delete_file",
		Description: "Deletes a single file within the job workspace.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file to delete.",
				},
			},
			Required: []string{"path"},
		},
		MinAccess: domain.AccessOwner,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			path, err := stringParam(params, "path")
			if err != nil {
				return nil, err
			}
			root, err := jobRoot(ws, scope)
			if err != nil {
				return nil, err
			}
			safePath, err := ensurePathIsSafe(root, path)
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(safePath)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", path)
				}
				return nil, fmt.Errorf("failed to stat file: %w", err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory", path)
			}
			if err := os.Remove(safePath); err != nil {
				return nil, fmt.Errorf("failed to delete file: %w", err)
			}
			return fmt.Sprintf("deleted %s", path), nil
		},
	}
}
