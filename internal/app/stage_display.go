package app

import (
	"context"
	"log/slog"

	"playctl/internal/display"
	"playctl/internal/launcher"
	"playctl/internal/ui"
	"playctl/pkg/launch"
)

// DisplayStage implements the Stage interface for the X11 access grant
type DisplayStage struct {
	launcher *launcher.Launcher
	console  *ui.Console
	opts     Options
}

// NewDisplayStage creates a new display stage instance
func NewDisplayStage(l *launcher.Launcher, console *ui.Console, opts Options) *DisplayStage {
	return &DisplayStage{launcher: l, console: console, opts: opts}
}

// Name returns the name of the stage
func (s *DisplayStage) Name() string {
	return StageDisplay
}

func (s *DisplayStage) Description() string {
	return "Granting X11 access"
}

// Execute opens the X server to local Docker containers
func (s *DisplayStage) Execute(ctx context.Context, state *ExecutionState) error {
	plan := state.Plan

	if s.opts.DryRun {
		if plan.X11Access == launch.X11AccessNone {
			s.console.PrintInfo("X11 access disabled")
			return nil
		}
		if plan.Display == "" {
			s.console.PrintWarning("DISPLAY is not set, xhost would be skipped")
			return nil
		}
		args, err := display.Args(plan.X11Access)
		if err != nil {
			return err
		}
		s.console.PrintCommand("xhost", args)
		return nil
	}

	if err := s.launcher.GrantDisplay(ctx, plan); err != nil {
		return err
	}

	if plan.X11Access != launch.X11AccessNone {
		s.console.PrintSuccess("X11 access granted on " + plan.Display)
	}
	slog.Info("Display stage completed successfully", "display", plan.Display, "scope", plan.X11Access, "runId", state.RunID)
	return nil
}
