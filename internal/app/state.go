package app

import (
	"time"

	"playctl/internal/launcher"
)

// Names of the workflow stages.
const (
	StageBuild   = "build"
	StageDisplay = "display"
	StageRun     = "run"
)

// ExecutionState carries the results of one invocation from stage to
// stage. It lives only as long as the invocation.
type ExecutionState struct {
	RunID       string
	Plan        *launcher.Plan
	ContainerID string
	Completed   []string
	Warnings    []error
	StartedAt   time.Time
}

// newState creates the execution state for a prepared plan
func newState(plan *launcher.Plan) *ExecutionState {
	return &ExecutionState{
		RunID:     plan.RunID,
		Plan:      plan,
		StartedAt: time.Now(),
	}
}

func (s *ExecutionState) markCompleted(stage string) {
	s.Completed = append(s.Completed, stage)
}

// hasCompleted reports whether the named stage finished successfully.
func (s *ExecutionState) hasCompleted(stage string) bool {
	for _, name := range s.Completed {
		if name == stage {
			return true
		}
	}
	return false
}
