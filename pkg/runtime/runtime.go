// Package runtime defines the container-runtime collaborator contract
// (spec §6.3): the orchestrator worker (D) drives it to realize a
// sandbox's desired container state without the core depending on any
// specific runtime wire format.
package runtime

import (
	"context"
	"io"
)

// Spec describes the container to materialize for one sandbox.
type Spec struct {
	SandboxName  string
	Image        string
	EnvSecrets   map[string]string
	SetupScript  string
	HasSetup     bool
	Token        string
	ParentVolume string
	ContentPort  int
}

// Handle identifies a realized container for subsequent Destroy/Exec
// calls. Opaque to the caller; runtimes may encode whatever they need
// (container id, volume names, network id) into it.
type Handle struct {
	ContainerID string
	VolumeName  string
}

// ExecResult is the outcome of one Exec call.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// FileInfo describes one entry from ListFiles.
type FileInfo struct {
	Path  string
	IsDir bool
	Size  int64
}

// Runtime is the container-runtime collaborator. Implementations own
// the mechanics of whichever container engine backs them; the
// orchestrator worker only calls through this interface.
type Runtime interface {
	// Create materializes a new container for spec and returns its
	// handle once it is running (not necessarily until the in-sandbox
	// executor has reported its first heartbeat — that's D's job to
	// wait for separately).
	Create(ctx context.Context, spec Spec) (Handle, error)

	// Destroy stops and removes the container, best-effort; it must
	// not error merely because the container is already gone.
	Destroy(ctx context.Context, handle Handle) error

	// InjectEnv writes additional environment into a running
	// container (used when secrets are rotated post-create).
	InjectEnv(ctx context.Context, handle Handle, env map[string]string) error

	// Exec runs cmd inside the container's /sandbox working directory
	// and returns captured output.
	Exec(ctx context.Context, handle Handle, cmd []string) (ExecResult, error)

	// ReadFile streams a file's contents out of the container.
	ReadFile(ctx context.Context, handle Handle, path string) (io.ReadCloser, error)

	// ListFiles lists directory entries under path inside the
	// container.
	ListFiles(ctx context.Context, handle Handle, path string) ([]FileInfo, error)
}
