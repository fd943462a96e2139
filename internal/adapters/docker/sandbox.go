package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/manthysbr/aule-agent/internal/core/domain"
	"github.com/manthysbr/aule-agent/internal/core/ports"
)

const (
	// sandboxPrefix names containers created by the sandbox provisioner.
	sandboxPrefix = "aule-sandbox-"
	sandboxUser   = "aule"
	maxOutput     = 1 << 20
)

// execAPI is the slice of the docker client used by Sandbox.
type execAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Sandbox runs commands inside already running sandbox containers.
type Sandbox struct {
	cli    execAPI
	closer io.Closer
}

var _ ports.SandboxRunner = (*Sandbox)(nil)

// NewSandbox connects to the docker daemon from the environment.
func NewSandbox() (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Sandbox{cli: cli, closer: cli}, nil
}

func (s *Sandbox) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Sandbox) Exec(ctx context.Context, sandboxID string, cmd []string, workdir string) (domain.SandboxResult, error) {
	containerID, err := s.resolve(ctx, sandboxID)
	if err != nil {
		return domain.SandboxResult{}, err
	}

	created, err := s.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		User:         sandboxUser,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return domain.SandboxResult{}, fmt.Errorf("create exec in %s: %w", sandboxID, err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return domain.SandboxResult{}, fmt.Errorf("attach exec in %s: %w", sandboxID, err)
	}
	defer attach.Close()

	// the hijacked stream does not observe ctx on its own
	stop := context.AfterFunc(ctx, attach.Close)
	defer stop()

	var stdout, stderr bytes.Buffer
	_, err = stdcopy.StdCopy(&limitedWriter{w: &stdout, n: maxOutput}, &limitedWriter{w: &stderr, n: maxOutput}, attach.Reader)
	if ctx.Err() != nil {
		return domain.SandboxResult{}, fmt.Errorf("exec in %s: %w", sandboxID, ctx.Err())
	}
	if err != nil {
		return domain.SandboxResult{}, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return domain.SandboxResult{}, fmt.Errorf("inspect exec: %w", err)
	}

	return domain.SandboxResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// resolve accepts either a container id/name or the bare sandbox id.
func (s *Sandbox) resolve(ctx context.Context, sandboxID string) (string, error) {
	candidates := []string{sandboxID}
	if !strings.HasPrefix(sandboxID, sandboxPrefix) {
		candidates = append(candidates, sandboxPrefix+sandboxID)
	}

	for _, name := range candidates {
		inspect, err := s.cli.ContainerInspect(ctx, name)
		if client.IsErrNotFound(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("inspect sandbox %s: %w", sandboxID, err)
		}
		if inspect.ContainerJSONBase == nil || inspect.State == nil || !inspect.State.Running {
			return "", fmt.Errorf("sandbox %s is not running", sandboxID)
		}
		return inspect.ID, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, sandboxID)
}

// limitedWriter keeps the first n bytes and silently drops the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	written, err := l.w.Write(keep)
	l.n -= written
	if err != nil {
		return written, err
	}
	return len(p), nil
}
