// Package scaffolder lays out a new playground directory for playctl.
package scaffolder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"playctl/pkg/launch"
)

const (
	ProfileFileName      = "playctl.yaml"
	DockerignoreFileName = ".dockerignore"
)

const profileHeader = `# playctl profile. Every key can be overridden with a PLAYCTL_<KEY>
# environment variable (dashes become underscores) or the matching flag.
`

const dockerignoreContent = `.git
**/__pycache__
*.log
`

// Options control where and how the playground is laid out.
type Options struct {
	Dir    string
	Force  bool
	DryRun bool
}

// Result lists the paths that were created and the ones left alone.
type Result struct {
	Created []string
	Skipped []string
}

// Scaffold writes the profile file, a .dockerignore and the project
// directory into opts.Dir. Existing files are kept unless opts.Force is set.
func Scaffold(profile launch.Profile, opts Options, out io.Writer) (*Result, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("target directory not found: %s", dir)
	}

	profileContent, err := MarshalProfile(profile)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	files := []struct {
		name    string
		content []byte
	}{
		{ProfileFileName, profileContent},
		{DockerignoreFileName, []byte(dockerignoreContent)},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeFile(path, f.content, opts, out, result); err != nil {
			return nil, err
		}
	}

	projectDir := profile.Project
	if !filepath.IsAbs(projectDir) {
		projectDir = filepath.Join(dir, projectDir)
		if err := validatePath(dir, projectDir); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(projectDir); err == nil {
		result.Skipped = append(result.Skipped, projectDir)
	} else if opts.DryRun {
		fmt.Fprintf(out, "DRY RUN: Would create directory: %s\n", projectDir)
		result.Created = append(result.Created, projectDir)
	} else {
		if err := os.MkdirAll(projectDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create project directory: %w", err)
		}
		result.Created = append(result.Created, projectDir)
	}

	return result, nil
}

// MarshalProfile renders a profile as the YAML accepted by the loader. The
// display is left out because it belongs to the session, not the project.
func MarshalProfile(profile launch.Profile) ([]byte, error) {
	profile.Display = ""

	var buf bytes.Buffer
	buf.WriteString(profileHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(profile); err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFile(path string, content []byte, opts Options, out io.Writer, result *Result) error {
	if _, err := os.Stat(path); err == nil && !opts.Force {
		result.Skipped = append(result.Skipped, path)
		return nil
	}

	if opts.DryRun {
		fmt.Fprintf(out, "DRY RUN: Would create file: %s\n", path)
		result.Created = append(result.Created, path)
		return nil
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	result.Created = append(result.Created, path)
	return nil
}

// validatePath ensures a relative project path does not escape the target
// directory.
func validatePath(dir, path string) error {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return fmt.Errorf("invalid project path %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("project path %s is outside %s", path, dir)
	}
	return nil
}
