package domain

import "errors"

// SandboxResult is the outcome of one command run inside a sandbox.
type SandboxResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

var ErrSandboxNotFound = errors.New("sandbox not found")
