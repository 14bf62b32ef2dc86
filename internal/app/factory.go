package app

import (
	"context"

	"playctl/internal/display"
	"playctl/internal/runtime"
	pruntime "playctl/pkg/runtime"
)

// Runtime is what the workflow and the lifecycle helpers need from the
// container runtime.
type Runtime interface {
	pruntime.ContainerRuntime
	pruntime.ContainerManager
}

// RuntimeFactory connects to a container runtime. It is only called once the
// plan has been validated, so path errors never wait on the daemon.
type RuntimeFactory func(ctx context.Context) (Runtime, error)

// DockerRuntimeFactory connects to the Docker daemon from the environment
// and grants display access with xhost.
func DockerRuntimeFactory(ctx context.Context) (Runtime, error) {
	dockerRuntime, err := runtime.NewDockerRuntime(ctx, display.NewXHost())
	if err != nil {
		return nil, err
	}
	return dockerRuntime, nil
}
