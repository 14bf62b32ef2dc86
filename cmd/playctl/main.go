package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"playctl/internal/app"
	perrors "playctl/internal/errors"
	"playctl/internal/ui"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string) int {
	console := ui.NewConsole()

	var warnings app.WarningHandler
	if handler, err := perrors.GetDefaultHandler(); err == nil {
		warnings = handler
	} else {
		console.PrintWarning("structured log unavailable: " + err.Error())
	}

	rootCmd := newRootCmd(console, warnings, app.DockerRuntimeFactory)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return perrors.HandleError(err)
	}
	return perrors.ExitOK
}
