package app

import (
	"context"
	"fmt"
	"log/slog"

	"playctl/internal/launcher"
	"playctl/internal/ui"
	"playctl/pkg/launch"
)

// RunStage implements the Stage interface for starting the container
type RunStage struct {
	launcher *launcher.Launcher
	console  *ui.Console
	opts     Options
}

// NewRunStage creates a new run stage instance
func NewRunStage(l *launcher.Launcher, console *ui.Console, opts Options) *RunStage {
	return &RunStage{launcher: l, console: console, opts: opts}
}

// Name returns the name of the stage
func (s *RunStage) Name() string {
	return StageRun
}

func (s *RunStage) Description() string {
	return "Starting container"
}

// Execute creates and starts the container
func (s *RunStage) Execute(ctx context.Context, state *ExecutionState) error {
	cfg := state.Plan.Run

	if s.opts.DryRun {
		s.console.PrintCommand("docker", launch.RunArgs(cfg))
		return nil
	}

	id, err := s.launcher.Run(ctx, state.Plan)
	if err != nil {
		return err
	}
	state.ContainerID = id

	s.console.PrintSuccess(fmt.Sprintf("Container '%s' started (%s)", cfg.Name, shortID(id)))
	for _, p := range cfg.Ports {
		s.console.PrintInfo(fmt.Sprintf("Port %d on the host is forwarded to %d in the container", p.HostPort, p.ContainerPort))
	}
	slog.Info("Run stage completed successfully", "name", cfg.Name, "containerID", id, "runId", state.RunID)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
