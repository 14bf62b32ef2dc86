package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"playctl/internal/app"
	"playctl/internal/config"
	perrors "playctl/internal/errors"
	"playctl/internal/scaffolder"
	"playctl/internal/ui"
	"playctl/pkg/launch"
)

type cli struct {
	console  *ui.Console
	app      *app.App
	cfgFile  string
	verbose  bool
	dryRun   bool
	noCache  bool
	pull     bool
	initDir  string
	force    bool
}

func newRootCmd(console *ui.Console, warnings app.WarningHandler, factory app.RuntimeFactory) *cobra.Command {
	c := &cli{
		console: console,
		app:     app.New(console, warnings, factory),
	}

	rootCmd := &cobra.Command{
		Use:     "playctl",
		Short:   "playctl - build and launch the PyTorch RL playground container",
		Version: version,
		Long: `playctl builds the playground image and starts the playground container with
GPU access, X11 forwarding and the project directory mounted at /app.

Common workflows:

  Build the image and start the container:
    playctl up

  Preview the equivalent docker and xhost commands:
    playctl up --dry-run

  Start a second container on another port:
    playctl run --name llm2 --host-port 6013

Configuration:
  Defaults are read from ./playctl.yaml (see 'playctl init'), then from
  PLAYCTL_<KEY> environment variables, then from flags. DISPLAY is forwarded
  into the container when set.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.setupLogging()
		},
	}
	rootCmd.SetOut(console.Out())
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return perrors.NewConfigError("Invalid command-line flag", err.Error(), "Run '"+cmd.CommandPath()+" --help' for usage", err)
	})

	d := launch.DefaultProfile()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "profile file (default is ./"+config.DefaultFileName+")")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.dryRun, "dry-run", false, "print the equivalent commands without running them")
	flags.String("project", d.Project, "host directory mounted at the container workdir")
	flags.Int("host-port", d.HostPort, "host port published to the container port")
	flags.String("name", d.ContainerName, "container name")
	flags.String("image", d.Image, "image reference to build and run")
	flags.String("context", d.Context, "build context directory")
	flags.String("dockerfile", d.Dockerfile, "Dockerfile path, relative to the build context")
	flags.String("display", d.Display, "X11 display forwarded into the container (default $DISPLAY)")
	flags.String("x11-access", d.X11Access, "X server access grant: local, all or none")
	flags.Bool("strict-display", d.StrictDisplay, "fail when X11 access cannot be granted")
	flags.String("gpus", d.GPUs, "GPUs to expose: all, a count, a device list or none")
	flags.String("network", d.Network, "container network mode: host, bridge or none")

	rootCmd.AddCommand(
		c.workflowCmd("build", "Build the playground image", c.app.Build, true),
		c.workflowCmd("run", "Grant X11 access and start the playground container", c.app.Run, false),
		c.workflowCmd("up", "Build the image, grant X11 access and start the container", c.app.Up, true),
		c.downCmd(),
		c.statusCmd(),
		c.initCmd(),
		c.configCmd(),
	)

	return rootCmd
}

func (c *cli) setupLogging() {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func (c *cli) loadProfile(cmd *cobra.Command) (launch.Profile, error) {
	profile, err := config.Load(c.cfgFile, cmd.Flags())
	if err != nil {
		return launch.Profile{}, err
	}
	slog.Debug("Profile loaded", "image", profile.Image, "name", profile.ContainerName, "project", profile.Project)
	return profile, nil
}

func (c *cli) options() app.Options {
	return app.Options{DryRun: c.dryRun, NoCache: c.noCache, Pull: c.pull}
}

type workflowFunc func(ctx context.Context, profile launch.Profile, opts app.Options) error

func (c *cli) workflowCmd(use, short string, fn workflowFunc, builds bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.loadProfile(cmd)
			if err != nil {
				return err
			}
			return fn(cmd.Context(), profile, c.options())
		},
	}
	if builds {
		cmd.Flags().BoolVar(&c.noCache, "no-cache", false, "do not use the build cache")
		cmd.Flags().BoolVar(&c.pull, "pull", false, "always pull newer versions of the base image")
	}
	return cmd
}

func (c *cli) downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Force-remove the playground container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.loadProfile(cmd)
			if err != nil {
				return err
			}
			return c.app.Down(cmd.Context(), profile.ContainerName, c.options())
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the playground container exists and its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.loadProfile(cmd)
			if err != nil {
				return err
			}
			_, err = c.app.Status(cmd.Context(), profile.ContainerName)
			return err
		},
	}
}

func (c *cli) initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write " + config.DefaultFileName + " and create the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.loadProfile(cmd)
			if err != nil {
				return err
			}

			result, err := scaffolder.Scaffold(profile, scaffolder.Options{
				Dir:    c.initDir,
				Force:  c.force,
				DryRun: c.dryRun,
			}, c.console.Out())
			if err != nil {
				return perrors.NewPathError("Failed to initialize playground", err.Error(), "", err)
			}

			for _, path := range result.Skipped {
				c.console.PrintInfo("Kept existing " + path)
			}
			if !c.dryRun {
				for _, path := range result.Created {
					c.console.PrintSuccess("Created " + path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&c.initDir, "dir", ".", "directory to initialize")
	cmd.Flags().BoolVar(&c.force, "force", false, "overwrite existing files")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective profile after merging file, environment and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := c.loadProfile(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(profile)
			if err != nil {
				return err
			}
			_, err = c.console.Out().Write(data)
			return err
		},
	}
}
