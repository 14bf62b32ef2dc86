// Package runtime defines the capabilities the launcher needs from a
// container runtime, so the workflow can be exercised without a daemon.
package runtime

import (
	"context"
	"io"

	"playctl/pkg/launch"
)

// BuildOptions tunes a single image build.
type BuildOptions struct {
	// Output receives the human readable build progress. Nil discards it.
	Output  io.Writer
	NoCache bool
	Pull    bool
}

// ContainerRuntime builds images, runs containers and opens the display to
// them. Implementations return errors from playctl/internal/errors where the
// failure maps to a launcher step.
type ContainerRuntime interface {
	BuildImage(ctx context.Context, spec launch.ImageSpec, opts BuildOptions) error
	RunContainer(ctx context.Context, cfg launch.RunConfig) (string, error)
	GrantDisplayAccess(ctx context.Context, display, scope string) error
}

// ContainerState is a snapshot of a named container.
type ContainerState struct {
	ID      string
	Name    string
	Image   string
	Status  string
	Running bool
	Labels  map[string]string
}

// ContainerManager is implemented by runtimes that can inspect and remove
// containers by name.
type ContainerManager interface {
	InspectContainer(ctx context.Context, name string) (*ContainerState, error)
	RemoveContainer(ctx context.Context, name string) error
}
