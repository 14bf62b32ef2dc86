package errors

import "errors"

var (
	ErrBuildFailed        = errors.New("image build failed")
	ErrDisplayAccess      = errors.New("display access grant failed")
	ErrRunFailed          = errors.New("container run failed")
	ErrPathInvalid        = errors.New("path validation failed")
	ErrConfigInvalid      = errors.New("configuration invalid")
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrContainerNotFound  = errors.New("container not found")
)

// Step names used in LaunchError.Step.
const (
	StepConfig   = "config"
	StepValidate = "validate"
	StepBuild    = "build"
	StepDisplay  = "display"
	StepRun      = "run"
	StepDown     = "down"
	StepStatus   = "status"
)

// Exit codes returned by the CLI, one per failing step.
const (
	ExitOK                 = 0
	ExitUnknown            = 1
	ExitConfigInvalid      = 2
	ExitPathInvalid        = 3
	ExitRuntimeUnavailable = 4
	ExitBuildFailed        = 10
	ExitDisplayAccess      = 11
	ExitRunFailed          = 12
)

type LaunchError struct {
	Type        error
	Step        string
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *LaunchError) Error() string {
	if e.OriginalErr == nil {
		return e.Type.Error()
	}
	return e.OriginalErr.Error()
}

func (e *LaunchError) Unwrap() []error {
	if e.OriginalErr == nil {
		return []error{e.Type}
	}
	return []error{e.Type, e.OriginalErr}
}

// Fatal reports whether the error must stop the workflow. Display access
// failures are advisory because headless usage is valid.
func (e *LaunchError) Fatal() bool {
	return e.Type != ErrDisplayAccess
}

func NewLaunchError(errorType error, step, context, cause, suggestion string, originalErr error) *LaunchError {
	return &LaunchError{
		Type:        errorType,
		Step:        step,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewBuildError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrBuildFailed, StepBuild, context, cause, suggestion, originalErr)
}

func NewDisplayAccessError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrDisplayAccess, StepDisplay, context, cause, suggestion, originalErr)
}

func NewRunError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrRunFailed, StepRun, context, cause, suggestion, originalErr)
}

func NewPathError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrPathInvalid, StepValidate, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrConfigInvalid, StepConfig, context, cause, suggestion, originalErr)
}

func NewRuntimeUnavailableError(context, cause, suggestion string, originalErr error) *LaunchError {
	return NewLaunchError(ErrRuntimeUnavailable, "", context, cause, suggestion, originalErr)
}

// IsFatal reports whether err should stop the workflow. Errors outside the
// taxonomy are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return launchErr.Fatal()
	}
	return true
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case errors.Is(err, ErrConfigInvalid):
		return ExitConfigInvalid
	case errors.Is(err, ErrPathInvalid):
		return ExitPathInvalid
	case errors.Is(err, ErrRuntimeUnavailable):
		return ExitRuntimeUnavailable
	case errors.Is(err, ErrBuildFailed):
		return ExitBuildFailed
	case errors.Is(err, ErrDisplayAccess):
		return ExitDisplayAccess
	case errors.Is(err, ErrRunFailed):
		return ExitRunFailed
	default:
		return ExitUnknown
	}
}
