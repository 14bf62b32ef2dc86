// Package display grants containers access to the host X server.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	perrors "playctl/internal/errors"
	"playctl/pkg/launch"
)

const grantTimeout = 5 * time.Second

// Runner executes a command with extra environment entries and returns its
// combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, error) {
	slog.Debug("Executing command", "command", append([]string{name}, args...))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// XHost opens the X server access control list with xhost.
type XHost struct {
	runner Runner
	binary string
}

// NewXHost returns an authorizer that shells out to xhost.
func NewXHost() *XHost {
	return NewXHostWithRunner(ExecRunner{})
}

// NewXHostWithRunner returns an authorizer using runner to execute xhost.
func NewXHostWithRunner(runner Runner) *XHost {
	return &XHost{runner: runner, binary: "xhost"}
}

// Args returns the xhost arguments for an access scope. The none scope
// yields no arguments and means the step is skipped.
func Args(scope string) ([]string, error) {
	switch scope {
	case launch.X11AccessLocal, "":
		return []string{"+local:docker"}, nil
	case launch.X11AccessAll:
		return []string{"+"}, nil
	case launch.X11AccessNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown X11 access scope %q", scope)
	}
}

// Grant allows containers to connect to the X server named by display.
func (x *XHost) Grant(ctx context.Context, display, scope string) error {
	args, err := Args(scope)
	if err != nil {
		return perrors.NewConfigError(
			"Invalid X11 access scope",
			err.Error(),
			"Use one of: local, all, none",
			err,
		)
	}
	if args == nil {
		slog.Info("X11 access grant disabled", "scope", scope)
		return nil
	}

	if display == "" {
		return perrors.NewDisplayAccessError(
			"X11 access was not granted",
			"DISPLAY is not set, so no X server is reachable",
			"Export DISPLAY (for example DISPLAY=:0) to forward GUI windows; headless usage continues without it",
			errors.New("DISPLAY is empty"),
		)
	}

	if scope == launch.X11AccessAll {
		slog.Warn("Granting X server access to every host; prefer --x11-access=local", "display", display)
	}

	ctx, cancel := context.WithTimeout(ctx, grantTimeout)
	defer cancel()

	output, err := x.runner.Run(ctx, []string{"DISPLAY=" + display}, x.binary, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return perrors.NewDisplayAccessError(
				"X11 access was not granted",
				"xhost is not installed",
				"Install the xhost utility (x11-xserver-utils on Debian/Ubuntu)",
				err,
			)
		}
		cause := strings.TrimSpace(output)
		if cause == "" {
			cause = err.Error()
		}
		return perrors.NewDisplayAccessError(
			fmt.Sprintf("X11 access was not granted on display %s", display),
			cause,
			"Check that an X server is running and DISPLAY points at it",
			fmt.Errorf("xhost %s: %w", strings.Join(args, " "), err),
		)
	}

	slog.Info("Granted X server access", "display", display, "scope", scope, "output", strings.TrimSpace(output))
	return nil
}
