package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/moby/patternmatcher/ignorefile"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	perrors "playctl/internal/errors"
	"playctl/pkg/launch"
	"playctl/pkg/runtime"
)

const pingTimeout = 2 * time.Second

// dockerAPI is the subset of the Docker client used by DockerRuntime.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// displayAuthorizer grants the container access to the host display.
type displayAuthorizer interface {
	Grant(ctx context.Context, display, scope string) error
}

// DockerRuntime implements runtime.ContainerRuntime and
// runtime.ContainerManager with the Docker Engine API.
type DockerRuntime struct {
	cli     dockerAPI
	display displayAuthorizer
}

var (
	_ runtime.ContainerRuntime = (*DockerRuntime)(nil)
	_ runtime.ContainerManager = (*DockerRuntime)(nil)
)

// NewDockerRuntime connects to the daemon configured by the DOCKER_*
// environment and verifies it answers.
func NewDockerRuntime(ctx context.Context, display displayAuthorizer) (*DockerRuntime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, perrors.NewRuntimeUnavailableError(
			"Failed to create Docker client",
			err.Error(),
			"Check DOCKER_HOST and related environment variables",
			err,
		)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := dockerClient.Ping(pingCtx); err != nil {
		return nil, perrors.NewRuntimeUnavailableError(
			"Failed to connect to Docker daemon",
			err.Error(),
			"Start Docker and make sure the current user can access its socket",
			fmt.Errorf("failed to connect to Docker daemon: %w", err),
		)
	}

	return newDockerRuntime(dockerClient, display), nil
}

func newDockerRuntime(cli dockerAPI, display displayAuthorizer) *DockerRuntime {
	return &DockerRuntime{cli: cli, display: display}
}

// BuildImage sends the build context to the daemon and streams the build
// progress to opts.Output. A failed build step is reported as a BuildError
// carrying the daemon's message.
func (d *DockerRuntime) BuildImage(ctx context.Context, spec launch.ImageSpec, opts runtime.BuildOptions) error {
	ref := spec.Reference()
	slog.Info("Building Docker image", "image", ref, "context", spec.ContextPath)

	dockerfile, err := dockerfileInContext(spec.ContextPath, spec.Dockerfile)
	if err != nil {
		return perrors.NewPathError("Invalid Dockerfile location", err.Error(), "Keep the Dockerfile inside the build context", err)
	}

	excludes, err := readDockerignore(spec.ContextPath, dockerfile)
	if err != nil {
		return perrors.NewBuildError("Failed to read .dockerignore", err.Error(), "", err)
	}

	buildCtx, err := archive.TarWithOptions(spec.ContextPath, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return perrors.NewBuildError(
			fmt.Sprintf("Failed to package build context %s", spec.ContextPath),
			err.Error(),
			"Check that every file in the build context is readable",
			err,
		)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  dockerfile,
		Labels:      spec.Labels,
		Remove:      true,
		ForceRemove: true,
		NoCache:     opts.NoCache,
		PullParent:  opts.Pull,
	})
	if err != nil {
		return perrors.NewBuildError(fmt.Sprintf("Failed to build image %s", ref), err.Error(), "", err)
	}
	defer resp.Body.Close()

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return perrors.NewBuildError(
				fmt.Sprintf("Failed to build image %s", ref),
				strings.TrimSpace(jsonErr.Message),
				"Fix the failing Dockerfile instruction and run the build again",
				err,
			)
		}
		return perrors.NewBuildError(fmt.Sprintf("Failed to read build output for %s", ref), err.Error(), "", err)
	}

	slog.Info("Successfully built Docker image", "image", ref)
	return nil
}

// RunContainer creates and starts the container described by cfg. An
// existing container with the same name is an error and is left untouched.
func (d *DockerRuntime) RunContainer(ctx context.Context, cfg launch.RunConfig) (string, error) {
	slog.Info("Running container", "image", cfg.Image, "name", cfg.Name)

	if cfg.Name != "" {
		existing, err := d.cli.ContainerInspect(ctx, cfg.Name)
		switch {
		case err == nil:
			status := ""
			if existing.ContainerJSONBase != nil && existing.State != nil {
				status = existing.State.Status
			}
			return "", nameConflictError(cfg.Name, status, nil)
		case !errdefs.IsNotFound(err):
			return "", perrors.NewRunError(
				fmt.Sprintf("Failed to check for an existing container named '%s'", cfg.Name),
				err.Error(),
				"",
				err,
			)
		}
	}

	containerConfig, err := containerConfigFor(cfg)
	if err != nil {
		return "", perrors.NewRunError("Invalid port mapping", err.Error(), "", err)
	}
	hostConfig, err := hostConfigFor(cfg)
	if err != nil {
		return "", perrors.NewRunError("Invalid port mapping", err.Error(), "", err)
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.Name)
	if err != nil {
		switch {
		case errdefs.IsConflict(err):
			return "", nameConflictError(cfg.Name, "", err)
		case errdefs.IsNotFound(err):
			return "", perrors.NewRunError(
				fmt.Sprintf("Image %s is not available", cfg.Image),
				err.Error(),
				"Build it first with 'playctl build' or use 'playctl up'",
				err,
			)
		}
		return "", perrors.NewRunError("Failed to create container", err.Error(), "", err)
	}

	for _, warning := range resp.Warnings {
		slog.Warn("Docker warning", "container", cfg.Name, "warning", warning)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// The container was created by this call; removing it keeps the
		// name free for the next attempt.
		if removeErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Error("Failed to remove container after start failure", "containerID", resp.ID, "error", removeErr)
		}
		return "", startError(cfg, err)
	}

	slog.Info("Container started", "name", cfg.Name, "containerID", resp.ID)
	return resp.ID, nil
}

// GrantDisplayAccess delegates to the configured display authorizer.
func (d *DockerRuntime) GrantDisplayAccess(ctx context.Context, display, scope string) error {
	if d.display == nil {
		return perrors.NewDisplayAccessError("X11 access was not granted", "no display authorizer is configured", "", errors.New("display authorizer missing"))
	}
	return d.display.Grant(ctx, display, scope)
}

// InspectContainer returns the state of the named container.
func (d *DockerRuntime) InspectContainer(ctx context.Context, name string) (*runtime.ContainerState, error) {
	insp, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s: %w", name, perrors.ErrContainerNotFound)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	state := &runtime.ContainerState{Name: name}
	if base := insp.ContainerJSONBase; base != nil {
		state.ID = base.ID
		state.Name = strings.TrimPrefix(base.Name, "/")
		if base.State != nil {
			state.Status = base.State.Status
			state.Running = base.State.Running
		}
	}
	if insp.Config != nil {
		state.Image = insp.Config.Image
		state.Labels = insp.Config.Labels
	}
	return state, nil
}

// RemoveContainer force-removes the named container.
func (d *DockerRuntime) RemoveContainer(ctx context.Context, name string) error {
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s: %w", name, perrors.ErrContainerNotFound)
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	slog.Info("Container removed", "name", name)
	return nil
}

func nameConflictError(name, status string, err error) error {
	cause := fmt.Sprintf("A container named '%s' already exists", name)
	if status != "" {
		cause = fmt.Sprintf("A container named '%s' already exists (%s)", name, status)
	}
	if err == nil {
		err = fmt.Errorf("container name %q is already in use", name)
	}
	return perrors.NewRunError(
		fmt.Sprintf("Failed to start container '%s'", name),
		cause,
		fmt.Sprintf("Remove it with 'playctl down --name %s' or pick another --name", name),
		err,
	)
}

func startError(cfg launch.RunConfig, err error) error {
	msg := err.Error()
	if launch.WantsGPU(cfg.GPUs) && isGPUError(msg) {
		return perrors.NewRunError(
			fmt.Sprintf("Failed to start container '%s'", cfg.Name),
			"No GPU is available to the Docker daemon",
			"Install the NVIDIA Container Toolkit or run with --gpus none",
			err,
		)
	}
	return perrors.NewRunError(fmt.Sprintf("Failed to start container '%s'", cfg.Name), msg, "", err)
}

func isGPUError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"could not select device driver", "nvidia-container-cli", "no cuda-capable device"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func containerConfigFor(cfg launch.RunConfig) (*container.Config, error) {
	exposed := nat.PortSet{}
	for _, p := range cfg.Ports {
		port, err := natPort(p)
		if err != nil {
			return nil, err
		}
		exposed[port] = struct{}{}
	}

	env := make([]string, 0, len(cfg.Env))
	for key, value := range cfg.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	attach := !cfg.Detach
	return &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Labels:       cfg.Labels,
		ExposedPorts: exposed,
		Tty:          cfg.TTY,
		OpenStdin:    cfg.Interactive,
		AttachStdin:  attach && cfg.Interactive,
		AttachStdout: attach,
		AttachStderr: attach,
	}, nil
}

func hostConfigFor(cfg launch.RunConfig) (*container.HostConfig, error) {
	bindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		port, err := natPort(p)
		if err != nil {
			return nil, err
		}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.HostPort)})
	}

	mounts := make([]mount.Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	return &container.HostConfig{
		NetworkMode:  container.NetworkMode(cfg.NetworkMode),
		IpcMode:      container.IpcMode(cfg.IPCMode),
		PortBindings: bindings,
		Mounts:       mounts,
		AutoRemove:   cfg.AutoRemove,
		Resources: container.Resources{
			DeviceRequests: gpuRequests(cfg.GPUs),
		},
	}, nil
}

func natPort(p launch.PortMapping) (nat.Port, error) {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
}

// gpuRequests mirrors the docker CLI --gpus values: "all", a device count,
// or a comma separated list of device IDs.
func gpuRequests(gpus string) []container.DeviceRequest {
	if !launch.WantsGPU(gpus) {
		return nil
	}
	capabilities := [][]string{{"gpu"}}
	if gpus == "all" {
		return []container.DeviceRequest{{Count: -1, Capabilities: capabilities}}
	}
	if n, err := strconv.Atoi(gpus); err == nil {
		return []container.DeviceRequest{{Count: n, Capabilities: capabilities}}
	}
	return []container.DeviceRequest{{DeviceIDs: strings.Split(gpus, ","), Capabilities: capabilities}}
}

// dockerfileInContext returns the Dockerfile path relative to the build
// context, as the daemon expects it.
func dockerfileInContext(contextPath, dockerfile string) (string, error) {
	if dockerfile == "" {
		return launch.DefaultDockerfile, nil
	}
	if !filepath.IsAbs(dockerfile) {
		return filepath.ToSlash(filepath.Clean(dockerfile)), nil
	}
	rel, err := filepath.Rel(contextPath, dockerfile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dockerfile %s is outside the build context %s", dockerfile, contextPath)
	}
	return filepath.ToSlash(rel), nil
}

// readDockerignore loads the exclusion patterns of the build context. The
// Dockerfile and .dockerignore are always sent so the daemon can read them.
func readDockerignore(contextPath, dockerfile string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextPath, ".dockerignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	excludes, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .dockerignore: %w", err)
	}
	if len(excludes) == 0 {
		return nil, nil
	}
	return append(excludes, "!"+dockerfile, "!.dockerignore"), nil
}
