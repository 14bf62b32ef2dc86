package launch

import (
	"fmt"
	"sort"
	"strconv"
)

// BuildArgs renders the docker CLI arguments equivalent to building spec.
func BuildArgs(spec ImageSpec) []string {
	args := []string{"build", "-t", spec.Reference()}
	if spec.Dockerfile != "" && spec.Dockerfile != DefaultDockerfile {
		args = append(args, "-f", spec.Dockerfile)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	return append(args, spec.ContextPath)
}

// RunArgs renders the docker CLI arguments equivalent to running cfg. The
// output is deterministic: map-valued fields are emitted in key order.
func RunArgs(cfg RunConfig) []string {
	args := []string{"run"}

	if WantsGPU(cfg.GPUs) {
		args = append(args, "--gpus", gpuArg(cfg.GPUs))
	}
	if cfg.NetworkMode != "" {
		args = append(args, "--net="+cfg.NetworkMode)
	}
	if cfg.IPCMode != "" {
		args = append(args, "--ipc="+cfg.IPCMode)
	}
	for _, p := range cfg.Ports {
		args = append(args, "-p", portArg(p))
	}

	flags := ""
	if cfg.Detach {
		flags += "d"
	}
	if cfg.Interactive {
		flags += "i"
	}
	if cfg.TTY {
		flags += "t"
	}
	if flags != "" {
		args = append(args, "-"+flags)
	}
	if cfg.AutoRemove {
		args = append(args, "--rm")
	}
	if cfg.Name != "" {
		args = append(args, "--name", cfg.Name)
	}
	for _, k := range sortedKeys(cfg.Env) {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}
	for _, k := range sortedKeys(cfg.Labels) {
		args = append(args, "--label", k+"="+cfg.Labels[k])
	}
	for _, m := range cfg.Mounts {
		v := m.Source + ":" + m.Target
		if m.ReadOnly {
			v += ":ro"
		}
		args = append(args, "-v", v)
	}

	return append(args, cfg.Image)
}

// WantsGPU reports whether a GPU request value asks for any device.
func WantsGPU(gpus string) bool {
	return gpus != "" && gpus != "none"
}

func gpuArg(gpus string) string {
	if gpus == "all" {
		return gpus
	}
	if _, err := strconv.Atoi(gpus); err == nil {
		return gpus
	}
	return fmt.Sprintf(`"device=%s"`, gpus)
}

func portArg(p PortMapping) string {
	v := strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort)
	if p.Protocol != "" && p.Protocol != "tcp" {
		v += "/" + p.Protocol
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
