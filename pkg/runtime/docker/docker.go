// Package docker implements the runtime.Runtime collaborator against
// the Docker Engine API.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/raworc/tsbx/pkg/runtime"
)

const sandboxWorkdir = "/sandbox"

// Runtime wraps a Docker Engine client as a runtime.Runtime.
type Runtime struct {
	cli   *client.Client
	image string
}

// New connects to the Docker daemon using the standard DOCKER_HOST/
// DOCKER_* environment variables and negotiates the API version.
func New(image string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	return &Runtime{cli: cli, image: image}, nil
}

// Close releases the underlying Docker client connection.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// Create materializes one container per sandbox, labeled by sandbox
// name so `docker ps --filter label=tsbx.sandbox=<name>` finds it.
func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	image := r.image
	if image == "" {
		image = "tsbx-sandbox:latest"
	}

	env := make([]string, 0, len(spec.EnvSecrets)+2)
	for k, v := range spec.EnvSecrets {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env, fmt.Sprintf("SANDBOX_ID=%s", spec.SandboxName))
	env = append(env, fmt.Sprintf("TSBX_TOKEN=%s", spec.Token))
	if spec.HasSetup {
		env = append(env, "TSBX_HAS_SETUP=1")
	}

	volumeName := fmt.Sprintf("tsbx-%s", spec.SandboxName)
	hostConfig := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s", volumeName, sandboxWorkdir)},
	}
	if spec.ContentPort != 0 {
		hostConfig.PortBindings = nil // published by the caller's reverse proxy, not the container directly
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      image,
		Env:        env,
		WorkingDir: sandboxWorkdir,
		Labels: map[string]string{
			"tsbx.sandbox": spec.SandboxName,
		},
	}, hostConfig, nil, nil, fmt.Sprintf("tsbx-sandbox-%s", spec.SandboxName))
	if err != nil {
		return runtime.Handle{}, fmt.Errorf("failed to create container: %w", err)
	}

	if spec.HasSetup && spec.SetupScript != "" {
		if err := r.writeFile(ctx, resp.ID, sandboxWorkdir+"/setup.sh", spec.SetupScript); err != nil {
			return runtime.Handle{}, fmt.Errorf("failed to install setup script: %w", err)
		}
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return runtime.Handle{}, fmt.Errorf("failed to start container: %w", err)
	}

	return runtime.Handle{ContainerID: resp.ID, VolumeName: volumeName}, nil
}

// Destroy stops and removes the container. A missing container is not
// an error — the goal state (gone) is already reached.
func (r *Runtime) Destroy(ctx context.Context, handle runtime.Handle) error {
	timeout := 10
	if err := r.cli.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := r.cli.ContainerRemove(ctx, handle.ContainerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// InjectEnv writes a small env-override file read by the in-sandbox
// executor's startup, since the Docker API has no live-env-update call
// for a running container.
func (r *Runtime) InjectEnv(ctx context.Context, handle runtime.Handle, env map[string]string) error {
	var buf bytes.Buffer
	for k, v := range env {
		fmt.Fprintf(&buf, "%s=%s\n", k, v)
	}
	return r.writeFile(ctx, handle.ContainerID, sandboxWorkdir+"/.env.injected", buf.String())
}

// Exec runs cmd inside the container and captures demultiplexed
// stdout/stderr.
func (r *Runtime) Exec(ctx context.Context, handle runtime.Handle, cmd []string) (runtime.ExecResult, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, handle.ContainerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   sandboxWorkdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return runtime.ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return runtime.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ReadFile streams one file out of the container via the tar-archive
// copy API, unwrapping the single tar entry Docker always wraps a
// single-file copy in.
func (r *Runtime) ReadFile(ctx context.Context, handle runtime.Handle, path string) (io.ReadCloser, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, handle.ContainerID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy file from container: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("failed to read tar entry: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, tr); err != nil {
		return nil, fmt.Errorf("failed to extract file contents: %w", err)
	}
	return io.NopCloser(&buf), nil
}

// ListFiles shells out to `ls` inside the container rather than
// parsing a tar stream of the whole directory, which would pull
// arbitrarily large trees across the wire for a simple listing.
func (r *Runtime) ListFiles(ctx context.Context, handle runtime.Handle, path string) ([]runtime.FileInfo, error) {
	result, err := r.Exec(ctx, handle, []string{"sh", "-c", fmt.Sprintf("ls -la --time-style=full-iso %q", path)})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("ls failed: %s", result.Stderr)
	}
	return parseLsOutput(result.Stdout), nil
}

func (r *Runtime) writeFile(ctx context.Context, containerID, path, content string) error {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	hdr := &tar.Header{
		Name: path[1:], // CopyToContainer resolves relative to "/"
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}

	return r.cli.CopyToContainer(ctx, containerID, "/", &tarBuf, container.CopyToContainerOptions{})
}
