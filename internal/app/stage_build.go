package app

import (
	"context"
	"log/slog"

	"playctl/internal/launcher"
	"playctl/internal/ui"
	"playctl/pkg/launch"
	"playctl/pkg/runtime"
)

// BuildStage implements the Stage interface for the image build
type BuildStage struct {
	launcher *launcher.Launcher
	console  *ui.Console
	opts     Options
}

// NewBuildStage creates a new build stage instance
func NewBuildStage(l *launcher.Launcher, console *ui.Console, opts Options) *BuildStage {
	return &BuildStage{launcher: l, console: console, opts: opts}
}

// Name returns the name of the stage
func (s *BuildStage) Name() string {
	return StageBuild
}

func (s *BuildStage) Description() string {
	return "Building image"
}

// Execute builds the image, streaming the daemon output to the console
func (s *BuildStage) Execute(ctx context.Context, state *ExecutionState) error {
	spec := state.Plan.Image

	if s.opts.DryRun {
		s.console.PrintCommand("docker", launch.BuildArgs(spec))
		return nil
	}

	err := s.launcher.Build(ctx, state.Plan, runtime.BuildOptions{
		Output:  s.console.Out(),
		NoCache: s.opts.NoCache,
		Pull:    s.opts.Pull,
	})
	if err != nil {
		return err
	}

	s.console.PrintSuccess("Image built: " + spec.Reference())
	slog.Info("Build stage completed successfully", "image", spec.Reference(), "runId", state.RunID)
	return nil
}
