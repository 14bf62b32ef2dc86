package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	perrors "playctl/internal/errors"
	"playctl/internal/launcher"
	"playctl/internal/ui"
	"playctl/internal/vcs"
	"playctl/pkg/launch"
	pruntime "playctl/pkg/runtime"
)

// App sequences the launch workflow and the lifecycle helpers.
type App struct {
	console    *ui.Console
	warnings   WarningHandler
	newRuntime RuntimeFactory
	newRunID   func() string
	revision   launcher.RevisionFunc
}

// New creates an App. warnings receives display access failures that do
// not stop the workflow; it may be nil, in which case they are only
// printed.
func New(console *ui.Console, warnings WarningHandler, factory RuntimeFactory) *App {
	return &App{
		console:    console,
		warnings:   warnings,
		newRuntime: factory,
		newRunID:   func() string { return uuid.New().String() },
		revision:   vcs.Detect,
	}
}

// Build builds the image.
func (a *App) Build(ctx context.Context, profile launch.Profile, opts Options) error {
	return a.execute(ctx, profile, launcher.StepBuild, opts)
}

// Run grants display access and starts the container from an existing image.
func (a *App) Run(ctx context.Context, profile launch.Profile, opts Options) error {
	return a.execute(ctx, profile, launcher.StepDisplay|launcher.StepRun, opts)
}

// Up builds the image, grants display access and starts the container.
func (a *App) Up(ctx context.Context, profile launch.Profile, opts Options) error {
	return a.execute(ctx, profile, launcher.StepsUp, opts)
}

func (a *App) execute(ctx context.Context, profile launch.Profile, steps launcher.Steps, opts Options) error {
	runID := a.newRunID()
	slog.Info("Starting playctl workflow", "runId", runID, "dryRun", opts.DryRun)

	plan, err := launcher.Prepare(profile, runID, steps, a.revision)
	if err != nil {
		return err
	}
	for _, m := range plan.Dropped {
		a.console.PrintWarning(fmt.Sprintf("%s does not exist, it will not be mounted", m.Source))
	}

	if opts.DryRun {
		a.console.PrintWarning("DRY RUN: nothing will be built or started")
	}

	var l *launcher.Launcher
	if !opts.DryRun {
		rt, err := a.newRuntime(ctx)
		if err != nil {
			return err
		}
		l = launcher.NewLauncher(rt)
	}

	state := newState(plan)
	stages := a.stages(plan, l, opts)
	for i, stage := range stages {
		a.console.PrintStep(i+1, len(stages), stage.Description())

		if err := stage.Execute(ctx, state); err != nil {
			if perrors.IsFatal(err) || plan.StrictDisplay {
				slog.Error("Stage failed", "stage", stage.Name(), "runId", runID, "error", err)
				return err
			}
			state.Warnings = append(state.Warnings, err)
			a.warn(err)
			continue
		}
		state.markCompleted(stage.Name())
	}

	switch {
	case opts.DryRun:
		a.console.PrintSuccess("Dry run completed")
	case len(state.Warnings) > 0:
		a.console.PrintSuccess(fmt.Sprintf("Done with %d warning(s)", len(state.Warnings)))
	default:
		a.console.PrintSuccess("Done")
	}
	if state.hasCompleted(StageRun) && !state.hasCompleted(StageDisplay) && plan.X11Access != launch.X11AccessNone {
		a.console.PrintInfo("GUI windows from the container will not be shown on this display")
	}

	slog.Info("playctl workflow completed", "runId", runID, "completed", state.Completed, "warnings", len(state.Warnings))
	return nil
}

func (a *App) stages(plan *launcher.Plan, l *launcher.Launcher, opts Options) []Stage {
	var stages []Stage
	if plan.Steps.Has(launcher.StepBuild) {
		stages = append(stages, NewBuildStage(l, a.console, opts))
	}
	if plan.Steps.Has(launcher.StepDisplay) {
		stages = append(stages, NewDisplayStage(l, a.console, opts))
	}
	if plan.Steps.Has(launcher.StepRun) {
		stages = append(stages, NewRunStage(l, a.console, opts))
	}
	return stages
}

func (a *App) warn(err error) {
	if a.warnings != nil {
		a.warnings.Handle(err)
		return
	}
	var launchErr *perrors.LaunchError
	if errors.As(err, &launchErr) {
		a.console.PrintWarning(a.console.FormatErrorMessage(launchErr.Context, launchErr.Cause, launchErr.Suggestion))
		return
	}
	a.console.PrintWarning(err.Error())
}

// Down force-removes the named container. A missing container is not an
// error.
func (a *App) Down(ctx context.Context, name string, opts Options) error {
	if opts.DryRun {
		a.console.PrintCommand("docker", []string{"rm", "-f", name})
		return nil
	}

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}

	if err := rt.RemoveContainer(ctx, name); err != nil {
		if errors.Is(err, perrors.ErrContainerNotFound) {
			a.console.PrintInfo(fmt.Sprintf("No container named '%s'", name))
			return nil
		}
		return perrors.NewLaunchError(perrors.ErrRunFailed, perrors.StepDown,
			fmt.Sprintf("Failed to remove container '%s'", name), err.Error(), "", err)
	}

	a.console.PrintSuccess(fmt.Sprintf("Container '%s' removed", name))
	return nil
}

// Status reports the state of the named container. It returns nil state
// without error when no such container exists.
func (a *App) Status(ctx context.Context, name string) (*pruntime.ContainerState, error) {
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return nil, err
	}

	state, err := rt.InspectContainer(ctx, name)
	if errors.Is(err, perrors.ErrContainerNotFound) {
		a.console.PrintInfo(fmt.Sprintf("Container '%s' does not exist", name))
		return nil, nil
	}
	if err != nil {
		return nil, perrors.NewLaunchError(perrors.ErrRunFailed, perrors.StepStatus,
			fmt.Sprintf("Failed to inspect container '%s'", name), err.Error(), "", err)
	}

	a.console.PrintInfo(fmt.Sprintf("Container '%s' is %s", state.Name, state.Status))
	a.console.PrintInfo("Image: " + state.Image)
	if runID := state.Labels[launch.LabelRunID]; runID != "" {
		a.console.PrintInfo("Run ID: " + runID)
	}
	return state, nil
}
