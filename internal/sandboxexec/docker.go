package sandboxexec

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerRunner is the default ContainerRunner: it shells out to the
// docker CLI, matching the rest of the exec pipeline's os/exec-based
// spawn paths rather than linking a docker client library.
type DockerRunner struct {
	// ContainerName maps an agent id to its running container's name,
	// populated by whatever provisions agent sandboxes (out of scope
	// here — this type only runs commands inside an already-running one).
	ContainerName map[string]string
}

func (d *DockerRunner) EnsureRunning(ctx context.Context, agentID string) (string, error) {
	name, ok := d.ContainerName[agentID]
	if !ok {
		return "", fmt.Errorf("sandboxexec: no sandbox container configured for agent %s", agentID)
	}
	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", name).Output()
	if err != nil {
		return "", fmt.Errorf("sandboxexec: docker inspect %s: %w", name, err)
	}
	if strings.TrimSpace(string(out)) != "true" {
		return "", fmt.Errorf("sandboxexec: container %s is not running", name)
	}
	return name, nil
}

func (d *DockerRunner) ExecArgv(containerID string, tty bool) (string, []string) {
	argv := []string{"exec"}
	if tty {
		argv = append(argv, "-t")
	}
	argv = append(argv, containerID)
	return "docker", argv
}
