package launch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/distribution/reference"
)

// ErrPathNotFound is wrapped by every host path validation failure.
var ErrPathNotFound = errors.New("host path does not exist")

// ParseImage splits an image reference into name and tag and checks that it
// is a reference a registry would accept. Digest references are rejected
// because a build can only produce tags.
func ParseImage(ref string) (name, tag string, err error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	if _, ok := named.(reference.Digested); ok {
		return "", "", fmt.Errorf("invalid image reference %q: digests cannot be used as build tags", ref)
	}
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	return reference.FamiliarName(named), tag, nil
}

// ImageSpec translates the profile into the build step input.
func (p Profile) ImageSpec() (ImageSpec, error) {
	name, tag, err := ParseImage(p.Image)
	if err != nil {
		return ImageSpec{}, err
	}

	contextPath, err := filepath.Abs(p.Context)
	if err != nil {
		return ImageSpec{}, fmt.Errorf("failed to resolve build context %s: %w", p.Context, err)
	}

	return ImageSpec{
		Name:        name,
		Tag:         tag,
		ContextPath: contextPath,
		Dockerfile:  p.Dockerfile,
		Labels:      map[string]string{},
	}, nil
}

// RunConfig translates the profile into the run step input. The project
// directory is made absolute because bind mount sources must be absolute.
func (p Profile) RunConfig(runID string) (RunConfig, error) {
	name, tag, err := ParseImage(p.Image)
	if err != nil {
		return RunConfig{}, err
	}

	projectPath, err := filepath.Abs(p.Project)
	if err != nil {
		return RunConfig{}, fmt.Errorf("failed to resolve project path %s: %w", p.Project, err)
	}

	env := map[string]string{}
	if p.Display != "" {
		env["DISPLAY"] = p.Display
	}

	mounts := []Mount{{Source: projectPath, Target: p.Workdir}}
	if p.X11Socket != "" {
		mounts = append(mounts, Mount{Source: p.X11Socket, Target: DefaultX11Socket, Optional: true})
	}

	labels := map[string]string{}
	if runID != "" {
		labels[LabelRunID] = runID
	}

	return RunConfig{
		Image: ImageSpec{Name: name, Tag: tag}.Reference(),
		Name:  p.ContainerName,
		Env:   env,
		Ports: []PortMapping{{
			HostPort:      p.HostPort,
			ContainerPort: p.ContainerPort,
			Protocol:      "tcp",
		}},
		Mounts:      mounts,
		NetworkMode: p.Network,
		IPCMode:     p.IPC,
		GPUs:        p.GPUs,
		Detach:      p.Detach,
		Interactive: p.Interactive,
		TTY:         p.TTY,
		AutoRemove:  p.AutoRemove,
		Labels:      labels,
	}, nil
}

// ValidateContext checks that the build context and its Dockerfile exist.
func (s ImageSpec) ValidateContext() error {
	info, err := os.Stat(s.ContextPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("build context %s: %w", s.ContextPath, ErrPathNotFound)
	}

	dockerfile := s.Dockerfile
	if !filepath.IsAbs(dockerfile) {
		dockerfile = filepath.Join(s.ContextPath, dockerfile)
	}
	if _, err := os.Stat(dockerfile); err != nil {
		return fmt.Errorf("dockerfile %s: %w", dockerfile, ErrPathNotFound)
	}
	return nil
}

// ResolveMounts checks that every required mount source exists and drops
// optional mounts whose source is missing. The dropped mounts are returned so
// the caller can report them.
func (c RunConfig) ResolveMounts() (RunConfig, []Mount, error) {
	var kept, dropped []Mount
	for _, m := range c.Mounts {
		if _, err := os.Stat(m.Source); err != nil {
			if m.Optional {
				dropped = append(dropped, m)
				continue
			}
			return c, nil, fmt.Errorf("mount source %s: %w", m.Source, ErrPathNotFound)
		}
		kept = append(kept, m)
	}

	resolved := c
	resolved.Mounts = kept
	return resolved, dropped, nil
}
