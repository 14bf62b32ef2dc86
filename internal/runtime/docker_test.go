package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "playctl/internal/errors"
	"playctl/pkg/launch"
	"playctl/pkg/runtime"
)

// fakeDockerAPI implements the subset of Docker client methods used by DockerRuntime
type fakeDockerAPI struct {
	buildStream  string
	buildErr     error
	buildOptions []types.ImageBuildOptions
	buildFiles   [][]string

	existing   map[string]types.ContainerJSON
	inspectErr error

	createErr       error
	createdName     string
	createdConfig   *container.Config
	createdHostConf *container.HostConfig
	startErr        error
	started         []string
	removed         []string
	removeErr       error
}

func (f *fakeDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *fakeDockerAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.buildOptions = append(f.buildOptions, options)

	var names []string
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	f.buildFiles = append(f.buildFiles, names)

	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildStream))}, nil
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	if f.inspectErr != nil {
		return types.ContainerJSON{}, f.inspectErr
	}
	if c, ok := f.existing[containerID]; ok {
		return c, nil
	}
	return types.ContainerJSON{}, errdefs.NotFound(errors.New("No such container: " + containerID))
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.createdName = containerName
	f.createdConfig = config
	f.createdHostConf = hostConfig
	return container.CreateResponse{ID: "new-id"}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, containerID)
	return nil
}

type fakeAuthorizer struct {
	display, scope string
	err            error
}

func (f *fakeAuthorizer) Grant(ctx context.Context, display, scope string) error {
	f.display, f.scope = display, scope
	return f.err
}

func newBuildContext(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func legacyRunConfig(project string) launch.RunConfig {
	return launch.RunConfig{
		Image:       launch.DefaultImage,
		Name:        "llm",
		Env:         map[string]string{"DISPLAY": ":0"},
		Ports:       []launch.PortMapping{{HostPort: 6012, ContainerPort: 6006, Protocol: "tcp"}},
		Mounts:      []launch.Mount{{Source: project, Target: "/app"}, {Source: "/tmp/.X11-unix", Target: "/tmp/.X11-unix"}},
		NetworkMode: "host",
		IPCMode:     "host",
		GPUs:        "all",
		Detach:      true,
		Interactive: true,
		TTY:         true,
		AutoRemove:  true,
		Labels:      map[string]string{launch.LabelRunID: "run-1"},
	}
}

const successfulBuild = `{"stream":"Step 1/1 : FROM scratch\n"}
{"aux":{"ID":"sha256:0123"}}
{"stream":"Successfully tagged pytorch2106rl_playground_llm:latest\n"}
`

func TestDockerRuntime_BuildImage(t *testing.T) {
	ctxDir := newBuildContext(t, map[string]string{
		"Dockerfile":                   "FROM scratch\n",
		".dockerignore":                "project/checkpoints\n*.pt\n",
		"project/main.py":              "print('hi')\n",
		"project/checkpoints/run1.bin": "x",
		"model.pt":                     "weights",
	})

	api := &fakeDockerAPI{buildStream: successfulBuild}
	d := newDockerRuntime(api, nil)

	spec := launch.ImageSpec{
		Name:        launch.DefaultImage,
		ContextPath: ctxDir,
		Dockerfile:  launch.DefaultDockerfile,
		Labels:      map[string]string{launch.LabelSourceRevision: "abc"},
	}

	var out bytes.Buffer
	require.NoError(t, d.BuildImage(context.Background(), spec, runtime.BuildOptions{Output: &out}))

	require.Len(t, api.buildOptions, 1)
	opts := api.buildOptions[0]
	assert.Equal(t, []string{launch.DefaultImage}, opts.Tags)
	assert.Equal(t, "Dockerfile", opts.Dockerfile)
	assert.Equal(t, "abc", opts.Labels[launch.LabelSourceRevision])
	assert.True(t, opts.Remove)

	files := strings.Join(api.buildFiles[0], ",")
	assert.Contains(t, files, "Dockerfile")
	assert.Contains(t, files, "project/main.py")
	assert.NotContains(t, files, "model.pt")
	assert.NotContains(t, files, "run1.bin")

	assert.Contains(t, out.String(), "Step 1/1 : FROM scratch")
}

func TestDockerRuntime_BuildImage_Idempotent(t *testing.T) {
	ctxDir := newBuildContext(t, map[string]string{"Dockerfile": "FROM scratch\n"})
	api := &fakeDockerAPI{buildStream: successfulBuild}
	d := newDockerRuntime(api, nil)
	spec := launch.ImageSpec{Name: launch.DefaultImage, ContextPath: ctxDir, Dockerfile: "Dockerfile"}

	require.NoError(t, d.BuildImage(context.Background(), spec, runtime.BuildOptions{}))
	require.NoError(t, d.BuildImage(context.Background(), spec, runtime.BuildOptions{}))

	require.Len(t, api.buildOptions, 2)
	assert.Equal(t, api.buildOptions[0].Tags, api.buildOptions[1].Tags)
}

func TestDockerRuntime_BuildImage_Failures(t *testing.T) {
	ctxDir := newBuildContext(t, map[string]string{"Dockerfile": "FROM scratch\nRUN false\n"})
	spec := launch.ImageSpec{Name: launch.DefaultImage, ContextPath: ctxDir, Dockerfile: "Dockerfile"}

	t.Run("error in build stream", func(t *testing.T) {
		api := &fakeDockerAPI{buildStream: `{"stream":"Step 2/2 : RUN false\n"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c false' returned a non-zero code: 1"},"error":"The command '/bin/sh -c false' returned a non-zero code: 1"}
`}
		err := newDockerRuntime(api, nil).BuildImage(context.Background(), spec, runtime.BuildOptions{})

		var launchErr *perrors.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, perrors.ErrBuildFailed, launchErr.Type)
		assert.Equal(t, "The command '/bin/sh -c false' returned a non-zero code: 1", launchErr.Cause)
		assert.True(t, launchErr.Fatal())
	})

	t.Run("daemon rejects build", func(t *testing.T) {
		api := &fakeDockerAPI{buildErr: errors.New("daemon unavailable")}
		err := newDockerRuntime(api, nil).BuildImage(context.Background(), spec, runtime.BuildOptions{})
		assert.ErrorIs(t, err, perrors.ErrBuildFailed)
	})

	t.Run("dockerfile outside context", func(t *testing.T) {
		outside := spec
		outside.Dockerfile = filepath.Join(filepath.Dir(ctxDir), "Dockerfile")
		err := newDockerRuntime(&fakeDockerAPI{}, nil).BuildImage(context.Background(), outside, runtime.BuildOptions{})
		assert.ErrorIs(t, err, perrors.ErrPathInvalid)
	})
}

func TestDockerRuntime_RunContainer(t *testing.T) {
	project := t.TempDir()
	api := &fakeDockerAPI{}
	d := newDockerRuntime(api, nil)

	id, err := d.RunContainer(context.Background(), legacyRunConfig(project))
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
	assert.Equal(t, []string{"new-id"}, api.started)
	assert.Equal(t, "llm", api.createdName)

	cfg := api.createdConfig
	assert.Equal(t, launch.DefaultImage, cfg.Image)
	assert.Equal(t, []string{"DISPLAY=:0"}, cfg.Env)
	assert.True(t, cfg.Tty)
	assert.True(t, cfg.OpenStdin)
	assert.False(t, cfg.AttachStdout, "detached containers are not attached")
	assert.Equal(t, "run-1", cfg.Labels[launch.LabelRunID])
	_, exposed := cfg.ExposedPorts[nat.Port("6006/tcp")]
	assert.True(t, exposed)

	host := api.createdHostConf
	assert.Equal(t, container.NetworkMode("host"), host.NetworkMode)
	assert.Equal(t, container.IpcMode("host"), host.IpcMode)
	assert.True(t, host.AutoRemove)
	assert.Equal(t, []nat.PortBinding{{HostPort: "6012"}}, host.PortBindings[nat.Port("6006/tcp")])
	assert.Equal(t, []mount.Mount{
		{Type: mount.TypeBind, Source: project, Target: "/app"},
		{Type: mount.TypeBind, Source: "/tmp/.X11-unix", Target: "/tmp/.X11-unix"},
	}, host.Mounts)
	assert.Equal(t, []container.DeviceRequest{{Count: -1, Capabilities: [][]string{{"gpu"}}}}, host.DeviceRequests)
}

func TestDockerRuntime_RunContainer_ExistingNameIsUntouched(t *testing.T) {
	api := &fakeDockerAPI{existing: map[string]types.ContainerJSON{
		"llm": {ContainerJSONBase: &types.ContainerJSONBase{
			ID:    "old-id",
			Name:  "/llm",
			State: &types.ContainerState{Status: "running", Running: true},
		}},
	}}
	d := newDockerRuntime(api, nil)

	_, err := d.RunContainer(context.Background(), legacyRunConfig(t.TempDir()))

	var launchErr *perrors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, perrors.ErrRunFailed, launchErr.Type)
	assert.Contains(t, launchErr.Cause, "already exists (running)")
	assert.Empty(t, api.createdName, "no container may be created")
	assert.Empty(t, api.removed, "the existing container must not be removed")
	assert.Empty(t, api.started)
}

func TestDockerRuntime_RunContainer_Failures(t *testing.T) {
	t.Run("create conflict", func(t *testing.T) {
		api := &fakeDockerAPI{createErr: errdefs.Conflict(errors.New(`Conflict. The container name "/llm" is already in use`))}
		_, err := newDockerRuntime(api, nil).RunContainer(context.Background(), legacyRunConfig(t.TempDir()))
		assert.ErrorIs(t, err, perrors.ErrRunFailed)
		assert.Empty(t, api.removed)
	})

	t.Run("image missing", func(t *testing.T) {
		api := &fakeDockerAPI{createErr: errdefs.NotFound(errors.New("No such image: pytorch2106rl_playground_llm:latest"))}
		_, err := newDockerRuntime(api, nil).RunContainer(context.Background(), legacyRunConfig(t.TempDir()))

		var launchErr *perrors.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Contains(t, launchErr.Suggestion, "playctl build")
	})

	t.Run("gpu unavailable", func(t *testing.T) {
		api := &fakeDockerAPI{startErr: errors.New(`could not select device driver "" with capabilities: [[gpu]]`)}
		_, err := newDockerRuntime(api, nil).RunContainer(context.Background(), legacyRunConfig(t.TempDir()))

		var launchErr *perrors.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, perrors.ErrRunFailed, launchErr.Type)
		assert.Equal(t, "No GPU is available to the Docker daemon", launchErr.Cause)
		assert.Equal(t, []string{"new-id"}, api.removed, "the container created by this call is cleaned up")
	})

	t.Run("inspect failure", func(t *testing.T) {
		api := &fakeDockerAPI{inspectErr: errors.New("permission denied")}
		_, err := newDockerRuntime(api, nil).RunContainer(context.Background(), legacyRunConfig(t.TempDir()))
		assert.ErrorIs(t, err, perrors.ErrRunFailed)
		assert.Empty(t, api.createdName)
	})
}

func TestDockerRuntime_GrantDisplayAccess(t *testing.T) {
	auth := &fakeAuthorizer{}
	d := newDockerRuntime(&fakeDockerAPI{}, auth)

	require.NoError(t, d.GrantDisplayAccess(context.Background(), ":0", "local"))
	assert.Equal(t, ":0", auth.display)
	assert.Equal(t, "local", auth.scope)

	err := newDockerRuntime(&fakeDockerAPI{}, nil).GrantDisplayAccess(context.Background(), ":0", "local")
	assert.ErrorIs(t, err, perrors.ErrDisplayAccess)
}

func TestDockerRuntime_InspectAndRemove(t *testing.T) {
	api := &fakeDockerAPI{existing: map[string]types.ContainerJSON{
		"llm": {
			ContainerJSONBase: &types.ContainerJSONBase{
				ID:    "abc",
				Name:  "/llm",
				State: &types.ContainerState{Status: "running", Running: true},
			},
			Config: &container.Config{Image: launch.DefaultImage, Labels: map[string]string{launch.LabelRunID: "r"}},
		},
	}}
	d := newDockerRuntime(api, nil)

	state, err := d.InspectContainer(context.Background(), "llm")
	require.NoError(t, err)
	assert.Equal(t, &runtime.ContainerState{
		ID:      "abc",
		Name:    "llm",
		Image:   launch.DefaultImage,
		Status:  "running",
		Running: true,
		Labels:  map[string]string{launch.LabelRunID: "r"},
	}, state)

	_, err = d.InspectContainer(context.Background(), "missing")
	assert.ErrorIs(t, err, perrors.ErrContainerNotFound)

	require.NoError(t, d.RemoveContainer(context.Background(), "llm"))
	assert.Equal(t, []string{"llm"}, api.removed)

	api.removeErr = errdefs.NotFound(errors.New("No such container: llm"))
	assert.ErrorIs(t, d.RemoveContainer(context.Background(), "llm"), perrors.ErrContainerNotFound)
}

func TestGPURequests(t *testing.T) {
	gpu := [][]string{{"gpu"}}
	tests := []struct {
		gpus string
		want []container.DeviceRequest
	}{
		{"", nil},
		{"none", nil},
		{"all", []container.DeviceRequest{{Count: -1, Capabilities: gpu}}},
		{"2", []container.DeviceRequest{{Count: 2, Capabilities: gpu}}},
		{"0,3", []container.DeviceRequest{{DeviceIDs: []string{"0", "3"}, Capabilities: gpu}}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gpuRequests(tt.gpus), "gpus=%q", tt.gpus)
	}
}

func TestDockerfileInContext(t *testing.T) {
	tests := []struct {
		dockerfile string
		want       string
		wantErr    bool
	}{
		{"", "Dockerfile", false},
		{"Dockerfile", "Dockerfile", false},
		{"docker/./Dockerfile.gpu", "docker/Dockerfile.gpu", false},
		{"/src/docker/Dockerfile", "docker/Dockerfile", false},
		{"/elsewhere/Dockerfile", "", true},
	}

	for _, tt := range tests {
		got, err := dockerfileInContext("/src", tt.dockerfile)
		if tt.wantErr {
			assert.Error(t, err, tt.dockerfile)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
