package launch

// Literal defaults of the playground launcher. Changing them breaks scripts
// that expect the container and image names of the original setup.
const (
	DefaultImage         = "pytorch2106rl_playground_llm"
	DefaultContainerName = "llm"
	DefaultContext       = "."
	DefaultDockerfile    = "Dockerfile"
	DefaultProjectDir    = "./project"
	DefaultWorkdir       = "/app"
	DefaultHostPort      = 6012
	DefaultContainerPort = 6006
	DefaultX11Socket     = "/tmp/.X11-unix"
	DefaultNetworkMode   = "host"
	DefaultIPCMode       = "host"
	DefaultGPUs          = "all"
	DefaultX11Access     = X11AccessLocal
)

// X11 access scopes accepted by the display step.
const (
	X11AccessLocal = "local"
	X11AccessAll   = "all"
	X11AccessNone  = "none"
)

// Label keys stamped on images and containers.
const (
	LabelRunID          = "dev.playctl.run-id"
	LabelSourceRevision = "org.opencontainers.image.revision"
	LabelSourceDirty    = "dev.playctl.source.dirty"
)

// Profile is the flat configuration record behind a single invocation.
// Every key can come from the profile file, a PLAYCTL_ environment variable
// or the matching command-line flag.
type Profile struct {
	Image         string `mapstructure:"image" yaml:"image" validate:"required"`
	Context       string `mapstructure:"context" yaml:"context" validate:"required"`
	Dockerfile    string `mapstructure:"dockerfile" yaml:"dockerfile" validate:"required"`
	ContainerName string `mapstructure:"name" yaml:"name" validate:"required,containername"`
	Project       string `mapstructure:"project" yaml:"project" validate:"required"`
	Workdir       string `mapstructure:"workdir" yaml:"workdir" validate:"required,startswith=/"`
	HostPort      int    `mapstructure:"host-port" yaml:"host-port" validate:"min=1,max=65535"`
	ContainerPort int    `mapstructure:"container-port" yaml:"container-port" validate:"min=1,max=65535"`
	Network       string `mapstructure:"network" yaml:"network" validate:"required,oneof=host bridge none"`
	IPC           string `mapstructure:"ipc" yaml:"ipc" validate:"required,oneof=host private shareable"`
	GPUs          string `mapstructure:"gpus" yaml:"gpus"`
	Detach        bool   `mapstructure:"detach" yaml:"detach"`
	Interactive   bool   `mapstructure:"interactive" yaml:"interactive"`
	TTY           bool   `mapstructure:"tty" yaml:"tty"`
	AutoRemove    bool   `mapstructure:"auto-remove" yaml:"auto-remove"`
	Display       string `mapstructure:"display" yaml:"display,omitempty"`
	X11Socket     string `mapstructure:"x11-socket" yaml:"x11-socket"`
	X11Access     string `mapstructure:"x11-access" yaml:"x11-access" validate:"required,oneof=local all none"`
	StrictDisplay bool   `mapstructure:"strict-display" yaml:"strict-display"`
}

// DefaultProfile returns the profile equivalent to the legacy launch script.
func DefaultProfile() Profile {
	return Profile{
		Image:         DefaultImage,
		Context:       DefaultContext,
		Dockerfile:    DefaultDockerfile,
		ContainerName: DefaultContainerName,
		Project:       DefaultProjectDir,
		Workdir:       DefaultWorkdir,
		HostPort:      DefaultHostPort,
		ContainerPort: DefaultContainerPort,
		Network:       DefaultNetworkMode,
		IPC:           DefaultIPCMode,
		GPUs:          DefaultGPUs,
		Detach:        true,
		Interactive:   true,
		TTY:           true,
		AutoRemove:    true,
		X11Socket:     DefaultX11Socket,
		X11Access:     DefaultX11Access,
	}
}

// ImageSpec describes the image produced by the build step.
type ImageSpec struct {
	Name        string
	Tag         string
	ContextPath string
	Dockerfile  string
	Labels      map[string]string
}

// Reference returns the name[:tag] string handed to the container runtime.
func (s ImageSpec) Reference() string {
	if s.Tag == "" {
		return s.Name
	}
	return s.Name + ":" + s.Tag
}

// Mount is a bind mount of a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
	// Optional mounts are dropped instead of failing validation when the
	// source does not exist.
	Optional bool
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// RunConfig is everything the run step hands to the container runtime.
type RunConfig struct {
	Image       string
	Name        string
	Env         map[string]string
	Ports       []PortMapping
	Mounts      []Mount
	NetworkMode string
	IPCMode     string
	GPUs        string
	Detach      bool
	Interactive bool
	TTY         bool
	AutoRemove  bool
	Labels      map[string]string
}
