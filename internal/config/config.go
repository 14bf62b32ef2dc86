package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	perrors "playctl/internal/errors"
	"playctl/pkg/launch"
)

const (
	// EnvPrefix prefixes the environment variable of every profile key,
	// e.g. PLAYCTL_HOST_PORT for host-port.
	EnvPrefix = "PLAYCTL"

	// DefaultFileName is looked up in the working directory when no
	// explicit profile file is given.
	DefaultFileName = "playctl.yaml"
)

// containerNamePattern is the name format accepted by the Docker daemon.
var containerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	if err := validate.RegisterValidation("containername", func(fl validator.FieldLevel) bool {
		return containerNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Load merges the literal defaults, the profile file, PLAYCTL_ environment
// variables and the flags that were set on the command line, in increasing
// order of precedence, and validates the result.
//
// configPath may be empty, in which case ./playctl.yaml is used if present.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (launch.Profile, error) {
	v, err := newViper(configPath, flags)
	if err != nil {
		return launch.Profile{}, err
	}

	var profile launch.Profile
	if err := v.Unmarshal(&profile); err != nil {
		return launch.Profile{}, perrors.NewConfigError(
			"Failed to parse configuration",
			err.Error(),
			"Check the types of the values in the profile file and PLAYCTL_ variables",
			err,
		)
	}

	if err := Validate(profile); err != nil {
		return launch.Profile{}, err
	}

	return profile, nil
}

// Validate checks a profile against its struct constraints.
func Validate(profile launch.Profile) error {
	if err := validate.Struct(&profile); err != nil {
		formatted := formatValidationError(err)
		return perrors.NewConfigError(
			"Invalid configuration",
			formatted.Error(),
			"Run 'playctl config' to inspect the effective configuration",
			formatted,
		)
	}
	return nil
}

func newViper(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// DISPLAY is forwarded as-is; PLAYCTL_DISPLAY takes precedence over it.
	if err := v.BindEnv("display", EnvPrefix+"_DISPLAY", "DISPLAY"); err != nil {
		return nil, perrors.NewConfigError("Failed to bind DISPLAY", err.Error(), "", err)
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, perrors.NewConfigError("Failed to bind command-line flags", err.Error(), "", err)
		}
	}

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && configPath == "":
			slog.Debug("No profile file found, using defaults")
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			return nil, perrors.NewConfigError(
				fmt.Sprintf("Profile file not found: %s", configPath),
				err.Error(),
				"Create one with 'playctl init' or drop --config",
				err,
			)
		default:
			return nil, perrors.NewConfigError(
				fmt.Sprintf("Failed to read profile file %s", v.ConfigFileUsed()),
				err.Error(),
				"Check the profile file is valid YAML",
				err,
			)
		}
	} else {
		slog.Debug("Loaded profile file", "path", v.ConfigFileUsed())
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	d := launch.DefaultProfile()
	v.SetDefault("image", d.Image)
	v.SetDefault("context", d.Context)
	v.SetDefault("dockerfile", d.Dockerfile)
	v.SetDefault("name", d.ContainerName)
	v.SetDefault("project", d.Project)
	v.SetDefault("workdir", d.Workdir)
	v.SetDefault("host-port", d.HostPort)
	v.SetDefault("container-port", d.ContainerPort)
	v.SetDefault("network", d.Network)
	v.SetDefault("ipc", d.IPC)
	v.SetDefault("gpus", d.GPUs)
	v.SetDefault("detach", d.Detach)
	v.SetDefault("interactive", d.Interactive)
	v.SetDefault("tty", d.TTY)
	v.SetDefault("auto-remove", d.AutoRemove)
	v.SetDefault("display", d.Display)
	v.SetDefault("x11-socket", d.X11Socket)
	v.SetDefault("x11-access", d.X11Access)
	v.SetDefault("strict-display", d.StrictDisplay)
}

// bindFlags binds every flag whose name is a profile key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !keys[f.Name] {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	return bindErr
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		result := "validation errors:\n"
		for _, msg := range errorMessages {
			result += fmt.Sprintf("  - %s\n", msg)
		}
		return errors.New(strings.TrimSuffix(result, "\n"))
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "min", "max":
		return fmt.Sprintf("field '%s' must be between 1 and 65535, got %v", field, e.Value())
	case "startswith":
		return fmt.Sprintf("field '%s' must start with '%s'", field, e.Param())
	case "containername":
		return fmt.Sprintf("field '%s' is not a valid container name: %q", field, e.Value())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, e.Tag())
	}
}
