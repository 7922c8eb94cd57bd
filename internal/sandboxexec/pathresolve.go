package sandboxexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// splitFirstToken extracts the first shell token of command, honoring a
// single- or double-quoted leading token, per spec §4.F step 8 ("quoted
// tokens handled").
func splitFirstToken(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '\'' || trimmed[0] == '"' {
		quote := trimmed[0]
		if end := strings.IndexByte(trimmed[1:], quote); end >= 0 {
			return trimmed[1 : 1+end]
		}
	}
	fields := strings.Fields(trimmed)
	return fields[0]
}

// resolveExecutablePath resolves command's first token to an absolute
// path: PATH-search for a bare name, cwd-relative resolution for a
// relative path, or the token itself if already absolute.
func resolveExecutablePath(command, cwd string) (string, error) {
	token := splitFirstToken(command)
	if token == "" {
		return "", ErrEmptyCommand
	}

	if filepath.IsAbs(token) {
		return filepath.Clean(token), nil
	}

	if strings.ContainsRune(token, filepath.Separator) {
		return filepath.Clean(filepath.Join(cwd, token)), nil
	}

	if found, err := exec.LookPath(token); err == nil {
		return found, nil
	}

	// Not found on PATH; fall back to a cwd-relative guess so allowlist
	// matching still has something concrete to test.
	return filepath.Clean(filepath.Join(cwd, token)), nil
}

// probeLoginShellPath runs the login shell to discover its PATH, used
// by the environment gate (spec §4.F step 6) when the caller hasn't
// supplied one explicitly.
func probeLoginShellPath(ctx context.Context, shell string) (string, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	ctx, cancel := context.WithTimeout(ctx, pathProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, shell, "-lc", "echo -n \"$PATH\"").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
