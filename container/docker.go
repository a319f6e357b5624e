package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/everydev1618/devspace"
)

// DockerRuntime implements Runtime on the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the local Docker daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := createDockerClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", devspace.ErrDockerUnavailable, err)
	}
	return &DockerRuntime{client: cli}, nil
}

// NewDockerRuntimeFromClient wraps an existing client.
func NewDockerRuntimeFromClient(cli *client.Client) *DockerRuntime {
	return &DockerRuntime{client: cli}
}

// createDockerClient creates a Docker client, trying multiple socket locations
// for compatibility with Docker Desktop on macOS.
func createDockerClient() (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                               // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p.ContainerPort))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(p.HostPort)}}
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
		Tty:          spec.Tty,
		OpenStdin:    spec.OpenStdin,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts,
		AutoRemove:   spec.AutoRemove,
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *DockerRuntime) InspectContainer(ctx context.Context, idOrName string) (ContainerInfo, error) {
	inspect, err := r.client.ContainerInspect(ctx, idOrName)
	if err != nil {
		return ContainerInfo{}, notFound(err, idOrName)
	}

	info := ContainerInfo{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		info.Running = inspect.State.Running
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.Labels = inspect.Config.Labels
	}
	info.Created, _ = time.Parse(time.RFC3339Nano, inspect.Created)
	return info, nil
}

// FindContainer finds a container by exact name, including stopped ones.
func (r *DockerRuntime) FindContainer(ctx context.Context, name string) (string, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
		),
	})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", devspace.ErrContainerNotFound, name)
}

func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	return notFound(r.client.ContainerStart(ctx, id, container.StartOptions{}), id)
}

func (r *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return notFound(r.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}), id)
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	return notFound(r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}), id)
}

func (r *DockerRuntime) Exec(ctx context.Context, id string, cmd []string, out io.Writer) (int, error) {
	execResp, err := r.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec: %w", notFound(err, id))
	}

	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	if _, err := stdcopy.StdCopy(out, out, attachResp.Reader); err != nil {
		return -1, fmt.Errorf("failed to read output: %w", err)
	}

	inspectResp, err := r.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return inspectResp.ExitCode, nil
}

func (r *DockerRuntime) ExecInteractive(ctx context.Context, id string, opts InteractiveExecOptions) (ExecSession, error) {
	execCfg := container.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	if opts.Rows > 0 && opts.Cols > 0 {
		execCfg.ConsoleSize = &[2]uint{opts.Rows, opts.Cols}
	}

	execResp, err := r.client.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", notFound(err, id))
	}

	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}

	return &dockerExecSession{id: execResp.ID, resp: attachResp, client: r.client}, nil
}

func (r *DockerRuntime) Logs(ctx context.Context, id string, follow bool, out io.Writer) error {
	reader, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return notFound(err, id)
	}
	defer reader.Close()

	_, err = stdcopy.StdCopy(out, out, reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (r *DockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, notFound(err, id)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

// ImageExists reports whether ref is present locally.
func (r *DockerRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := r.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// PullImage pulls ref and decodes the daemon's progress stream until it ends.
func (r *DockerRuntime) PullImage(ctx context.Context, ref string, onProgress func(PullProgress)) error {
	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %s", devspace.ErrImagePull, msg.Error.Message)
		}
		if onProgress != nil {
			p := PullProgress{ID: msg.ID, Status: msg.Status}
			if msg.Progress != nil {
				p.Progress = msg.Progress.String()
			}
			onProgress(p)
		}
	}
}

// Close closes the Docker client.
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func notFound(err error, ref string) error {
	if err != nil && client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", devspace.ErrContainerNotFound, ref)
	}
	return err
}

// dockerExecSession adapts a hijacked exec connection to ExecSession.
type dockerExecSession struct {
	id     string
	resp   types.HijackedResponse
	client *client.Client
}

func (s *dockerExecSession) ID() string { return s.id }

func (s *dockerExecSession) Read(p []byte) (int, error) { return s.resp.Reader.Read(p) }

func (s *dockerExecSession) Write(p []byte) (int, error) { return s.resp.Conn.Write(p) }

func (s *dockerExecSession) Close() error {
	s.resp.Close()
	return nil
}

func (s *dockerExecSession) Resize(ctx context.Context, rows, cols uint) error {
	return s.client.ContainerExecResize(ctx, s.id, container.ResizeOptions{Height: rows, Width: cols})
}
