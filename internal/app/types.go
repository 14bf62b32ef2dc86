package app

import (
	"context"
)

// Stage represents a single step of the launch workflow.
// Each stage implements this interface to provide a name and execution logic.
type Stage interface {
	Name() string
	Description() string
	Execute(ctx context.Context, state *ExecutionState) error
}

// Options are the per-invocation switches that are not part of the profile.
type Options struct {
	DryRun  bool
	NoCache bool
	Pull    bool
}

// WarningHandler reports errors that do not stop the workflow.
type WarningHandler interface {
	Handle(err error)
}
