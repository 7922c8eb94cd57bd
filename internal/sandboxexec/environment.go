package sandboxexec

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// mergeEnvironment implements spec §4.F step 6: process env merged with
// params.env, then (for host=gateway, when PATH isn't explicit) the
// login shell's PATH, then configured pathPrepend.
func mergeEnvironment(ctx context.Context, host Host, params map[string]string, pathPrepend []string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range params {
		merged[k] = v
	}

	if host == HostGateway {
		if _, explicit := params["PATH"]; !explicit {
			if shellPath, err := probeLoginShellPath(ctx, os.Getenv("SHELL")); err == nil && shellPath != "" {
				merged["PATH"] = shellPath
			}
		}
	}

	if len(pathPrepend) > 0 {
		merged["PATH"] = strings.Join(pathPrepend, string(os.PathListSeparator)) + string(os.PathListSeparator) + merged["PATH"]
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// buildNodeArgv builds a platform-appropriate argv for running command
// via a node host's system.run, per spec §4.F step 7.
func buildNodeArgv(platform, command string) []string {
	switch platform {
	case "windows":
		return []string{"cmd", "/s", "/c", command}
	default:
		return []string{"sh", "-lc", command}
	}
}
