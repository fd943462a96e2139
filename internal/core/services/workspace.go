package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// WorkspaceManager hands each job its own directory under baseDir/jobs.
type WorkspaceManager struct {
	baseDir string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "aule-agent", "workspace")
	}
	return &WorkspaceManager{
		baseDir: baseDir,
	}
}

// PrepareWorkspace creates the job directory if needed and returns it.
// Path: baseDir/jobs/{id}
func (s *WorkspaceManager) PrepareWorkspace(id domain.JobID) (string, error) {
	if id == "" {
		return "", fmt.Errorf("job id is required for a workspace")
	}
	path := s.GetPath(id)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return path, nil
}

// CleanupWorkspace removes the job workspace directory
func (s *WorkspaceManager) CleanupWorkspace(id domain.JobID) error {
	return os.RemoveAll(s.GetPath(id))
}

// GetPath returns the absolute path for a job's workspace
func (s *WorkspaceManager) GetPath(id domain.JobID) string {
	return filepath.Join(s.baseDir, "jobs", string(id))
}

// OwnerDir returns baseDir/owners/{userID}, created on demand. It holds
// state that outlives a single job.
func (s *WorkspaceManager) OwnerDir(userID string) (string, error) {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`) {
		return "", fmt.Errorf("invalid owner id %q", userID)
	}
	path := filepath.Join(s.baseDir, "owners", userID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create owner dir: %w", err)
	}
	return path, nil
}
