// Package launcher validates a profile into a launch plan and executes its
// build, display and run steps against a container runtime.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	perrors "playctl/internal/errors"
	"playctl/internal/vcs"
	"playctl/pkg/launch"
	"playctl/pkg/runtime"
)

// Steps selects the parts of the workflow a plan is prepared for.
type Steps uint8

const (
	StepBuild Steps = 1 << iota
	StepDisplay
	StepRun

	StepsUp = StepBuild | StepDisplay | StepRun
)

// Has reports whether s includes step.
func (s Steps) Has(step Steps) bool {
	return s&step != 0
}

// Plan is the validated input of one invocation.
type Plan struct {
	RunID         string
	Steps         Steps
	Image         launch.ImageSpec
	Run           launch.RunConfig
	Dropped       []launch.Mount
	Display       string
	X11Access     string
	StrictDisplay bool
}

// RevisionFunc reads the source revision of a build context.
type RevisionFunc func(path string) (*vcs.Revision, error)

// Prepare turns a profile into a plan. Every host path the selected steps
// need is checked here, before any runtime call.
func Prepare(profile launch.Profile, runID string, steps Steps, revision RevisionFunc) (*Plan, error) {
	plan := &Plan{
		RunID:         runID,
		Steps:         steps,
		Display:       profile.Display,
		X11Access:     profile.X11Access,
		StrictDisplay: profile.StrictDisplay,
	}

	if steps.Has(StepBuild) {
		spec, err := profile.ImageSpec()
		if err != nil {
			return nil, perrors.NewConfigError("Invalid image reference", err.Error(), "Use a name like 'repo/name:tag'", err)
		}
		if err := spec.ValidateContext(); err != nil {
			return nil, perrors.NewPathError(
				"Build context is not usable",
				err.Error(),
				"Run playctl from the directory containing the Dockerfile or pass --context/--dockerfile",
				err,
			)
		}
		if revision != nil {
			stampRevision(&spec, revision)
		}
		plan.Image = spec
	}

	if steps.Has(StepRun) {
		cfg, err := profile.RunConfig(runID)
		if err != nil {
			return nil, perrors.NewConfigError("Invalid run configuration", err.Error(), "", err)
		}
		resolved, dropped, err := cfg.ResolveMounts()
		if err != nil {
			suggestion := "Create the directory or point --project at an existing one"
			return nil, perrors.NewPathError("Project directory is not usable", err.Error(), suggestion, err)
		}
		for _, m := range dropped {
			slog.Warn("Skipping mount, source does not exist", "source", m.Source, "target", m.Target)
		}
		plan.Run = resolved
		plan.Dropped = dropped
	}

	return plan, nil
}

// stampRevision adds the source revision labels. A context outside a git
// work tree is built without them.
func stampRevision(spec *launch.ImageSpec, revision RevisionFunc) {
	rev, err := revision(spec.ContextPath)
	if err != nil {
		slog.Warn("Failed to read source revision", "context", spec.ContextPath, "error", err)
		return
	}
	if rev == nil {
		slog.Debug("Build context is not a git work tree", "context", spec.ContextPath)
		return
	}
	labels := make(map[string]string, len(spec.Labels)+2)
	maps.Copy(labels, spec.Labels)
	maps.Copy(labels, rev.Labels())
	spec.Labels = labels
}

// Launcher executes plan steps against a container runtime.
type Launcher struct {
	runtime runtime.ContainerRuntime
}

// NewLauncher creates a Launcher using the given runtime.
func NewLauncher(containerRuntime runtime.ContainerRuntime) *Launcher {
	return &Launcher{runtime: containerRuntime}
}

// Build builds the plan's image. Building an unchanged context again
// produces the same tag.
func (l *Launcher) Build(ctx context.Context, plan *Plan, opts runtime.BuildOptions) error {
	if !plan.Steps.Has(StepBuild) {
		return fmt.Errorf("plan was not prepared for the build step")
	}

	if err := l.runtime.BuildImage(ctx, plan.Image, opts); err != nil {
		return asLaunchError(err, perrors.NewBuildError, fmt.Sprintf("Failed to build image %s", plan.Image.Reference()))
	}
	return nil
}

// GrantDisplay opens the X server to the container. The returned error is
// a DisplayAccessError, which does not stop the workflow unless the plan
// asks for a strict display.
func (l *Launcher) GrantDisplay(ctx context.Context, plan *Plan) error {
	if plan.X11Access == launch.X11AccessNone {
		slog.Debug("X11 access disabled, skipping display step")
		return nil
	}

	if plan.Display == "" {
		return perrors.NewDisplayAccessError(
			"X11 access was not granted",
			"DISPLAY is not set",
			"Set DISPLAY to forward GUI windows, or use --x11-access none for headless runs",
			errors.New("DISPLAY is empty"),
		)
	}

	if err := l.runtime.GrantDisplayAccess(ctx, plan.Display, plan.X11Access); err != nil {
		return asLaunchError(err, perrors.NewDisplayAccessError, "X11 access was not granted")
	}
	return nil
}

// Run creates and starts the plan's container and returns its ID.
func (l *Launcher) Run(ctx context.Context, plan *Plan) (string, error) {
	if !plan.Steps.Has(StepRun) {
		return "", fmt.Errorf("plan was not prepared for the run step")
	}

	id, err := l.runtime.RunContainer(ctx, plan.Run)
	if err != nil {
		return "", asLaunchError(err, perrors.NewRunError, fmt.Sprintf("Failed to start container '%s'", plan.Run.Name))
	}
	return id, nil
}

// asLaunchError keeps errors that are already classified and wraps the
// rest with the step's constructor.
func asLaunchError(err error, wrap func(msg, cause, suggestion string, originalErr error) *perrors.LaunchError, msg string) error {
	var launchErr *perrors.LaunchError
	if errors.As(err, &launchErr) {
		return err
	}
	return wrap(msg, err.Error(), "", err)
}
