package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWorkspaceManager creates a WorkspaceManager rooted in a temp dir.
func testWorkspaceManager(t *testing.T) (*WorkspaceManager, string) {
	t.Helper()
	tmpDir := t.TempDir()
	return NewWorkspaceManager(tmpDir), tmpDir
}

func testScope(jobID string) domain.CallerScope {
	return domain.CallerScope{UserID: "user-1", AccessLevel: domain.AccessOwner, JobID: domain.JobID(jobID)}
}

// testJobDir creates the job workspace and returns its path.
func testJobDir(t *testing.T, tmpDir, jobID string) string {
	t.Helper()
	dir := filepath.Join(tmpDir, "jobs", jobID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	return dir
}

// ── ensurePathIsSafe ────────────────────────────────────────────────────

func TestEnsurePathIsSafe(t *testing.T) {
	root := "/workspace/jobs/abc"

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"normal file", "src/main.go", false},
		{"nested", "a/b/c/d.txt", false},
		{"dot current", "./foo.txt", false},
		{"root itself", ".", false},
		{"traversal blocked", "../../etc/passwd", true},
		{"sibling prefix blocked", "../abcdef/secret", true},
		{"parent blocked", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ensurePathIsSafe(root, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ── read_file ───────────────────────────────────────────────────────────

func TestReadFileTool(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	jobDir := testJobDir(t, tmpDir, "job1")
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "hello.txt"), []byte("hello world"), 0644))

	tool := NewReadFileTool(ws)

	result, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path": "hello.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestReadFileTool_NotFound(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	tool := NewReadFileTool(ws)

	_, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{"path": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadFileTool_Traversal(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	tool := NewReadFileTool(ws)

	_, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path": "../../etc/passwd",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security violation")
}

func TestReadFileTool_RequiresJobScope(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	tool := NewReadFileTool(ws)

	_, err := tool.Execute(context.Background(), domain.CallerScope{}, map[string]interface{}{"path": "a"})
	require.Error(t, err)
}

func TestReadFileTool_BadParam(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	tool := NewReadFileTool(ws)

	_, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{"path": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a string")
}

// ── write_file ──────────────────────────────────────────────────────────

func TestWriteFileTool(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	tool := NewWriteFileTool(ws)

	result, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path":    "new_file.txt",
		"content": "test content 123",
	})
	require.NoError(t, err)
	assert.Contains(t, result.(string), "wrote")

	data, err := os.ReadFile(filepath.Join(tmpDir, "jobs", "job1", "new_file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "test content 123", string(data))
}

func TestWriteFileTool_CreatesSubdirs(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	tool := NewWriteFileTool(ws)

	_, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path":    "sub/dir/file.txt",
		"content": "nested",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(tmpDir, "jobs", "job1", "sub", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestWriteFileTool_JobsAreIsolated(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	write := NewWriteFileTool(ws)
	read := NewReadFileTool(ws)

	_, err := write.Execute(context.Background(), testScope("job-a"), map[string]interface{}{
		"path":    "notes.txt",
		"content": "a",
	})
	require.NoError(t, err)

	_, err = read.Execute(context.Background(), testScope("job-b"), map[string]interface{}{"path": "notes.txt"})
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(tmpDir, "jobs", "job-a", "notes.txt"))
}

// ── list_files ──────────────────────────────────────────────────────────

func TestListFilesTool(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	jobDir := testJobDir(t, tmpDir, "job1")
	require.NoError(t, os.MkdirAll(filepath.Join(jobDir, "subdir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "b.txt"), []byte("b"), 0644))

	tool := NewListFilesTool(ws)

	result, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{})
	require.NoError(t, err)

	listing := result.(string)
	assert.Contains(t, listing, "a.txt")
	assert.Contains(t, listing, "b.txt")
	assert.Contains(t, listing, "subdir/")
}

func TestListFilesTool_Empty(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	tool := NewListFilesTool(ws)

	result, err := tool.Execute(context.Background(), testScope("fresh"), map[string]interface{}{"path": "."})
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", result)
}

// ── edit_file ───────────────────────────────────────────────────────────

func TestEditFileTool(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	jobDir := testJobDir(t, tmpDir, "job1")
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "code.go"), []byte("func main() {\n\tfmt.Println(\"old\")\n}"), 0644))

	tool := NewEditFileTool(ws)

	result, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path":    "code.go",
		"search":  "fmt.Println(\"old\")",
		"replace": "fmt.Println(\"new\")",
	})
	require.NoError(t, err)
	assert.Contains(t, result.(string), "edited")

	data, err := os.ReadFile(filepath.Join(jobDir, "code.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fmt.Println(\"new\")")
	assert.NotContains(t, string(data), "fmt.Println(\"old\")")
}

func TestEditFileTool_NotFound(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	jobDir := testJobDir(t, tmpDir, "job1")
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "code.go"), []byte("hello world"), 0644))

	tool := NewEditFileTool(ws)

	_, err := tool.Execute(context.Background(), testScope("job1"), map[string]interface{}{
		"path":    "code.go",
		"search":  "NONEXISTENT STRING",
		"replace": "replacement",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// ── access filtering through the invoker ───────────────────────────────

func TestRegistryInvoker_AccessLevels(t *testing.T) {
	ws, _ := testWorkspaceManager(t)
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(NewReadFileTool(ws)))
	require.NoError(t, reg.Register(NewWriteFileTool(ws)))
	inv := NewRegistryInvoker(discardLogger(), reg)

	visitor := domain.CallerScope{JobID: "job1", AccessLevel: domain.AccessVisitor}
	collab := domain.CallerScope{JobID: "job1", AccessLevel: domain.AccessCollaborator}

	assert.Empty(t, inv.Schemas(visitor))
	names := []string{}
	for _, s := range inv.Schemas(collab) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"read_file"}, names)
	assert.Len(t, inv.Schemas(testScope("job1")), 2)

	res := inv.Invoke(context.Background(), domain.ToolCallRequest{ID: "c1", Name: "write_file", Arguments: map[string]interface{}{
		"path": "a", "content": "b",
	}}, collab)
	assert.False(t, res.Success)
	assert.Equal(t, "c1", res.ToolCallID)
	assert.Contains(t, res.Error, "permission denied")
}

func TestRegistryInvoker_RecoversPanics(t *testing.T) {
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(&domain.Tool{
		Name: "explode",
		Execute: func(context.Context, domain.CallerScope, map[string]interface{}) (interface{}, error) {
			panic("kaboom")
		},
	}))
	inv := NewRegistryInvoker(discardLogger(), reg)

	res := inv.Invoke(context.Background(), domain.ToolCallRequest{ID: "c9", Name: "explode"}, testScope("job1"))
	assert.False(t, res.Success)
	assert.Equal(t, "c9", res.ToolCallID)
	assert.Contains(t, res.Error, "kaboom")
}

func TestRegistryInvoker_EnforcesDeclaredTimeout(t *testing.T) {
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(&domain.Tool{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context, _ domain.CallerScope, _ map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	inv := NewRegistryInvoker(discardLogger(), reg)

	res := inv.Invoke(context.Background(), domain.ToolCallRequest{Name: "slow"}, testScope("job1"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "deadline exceeded")
}

func TestDeleteFileTool(t *testing.T) {
	ws, tmpDir := testWorkspaceManager(t)
	dir := testJobDir(t, tmpDir, "job-del")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("bye"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	tool := NewDeleteFileTool(ws)
	ctx := context.Background()

	out, err := tool.Execute(ctx, testScope("job-del"), map[string]interface{}{"path": "old.txt"})
	require.NoError(t, err)
	assert.Equal(t, "deleted old.txt", out)
	assert.NoFileExists(t, filepath.Join(dir, "old.txt"))

	_, err = tool.Execute(ctx, testScope("job-del"), map[string]interface{}{"path": "old.txt"})
	assert.EqualError(t, err, "file not found: old.txt")

	_, err = tool.Execute(ctx, testScope("job-del"), map[string]interface{}{"path": "sub"})
	assert.EqualError(t, err, "sub is a directory")
	assert.DirExists(t, filepath.Join(dir, "sub"))

	_, err = tool.Execute(ctx, testScope("job-del"), map[string]interface{}{"path": "../../escape"})
	assert.Error(t, err)
}
