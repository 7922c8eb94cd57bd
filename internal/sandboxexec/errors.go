// Package sandboxexec implements the exec/approval gating pipeline of
// spec §4.F: every shell command a chat agent wants to run passes
// through elevation, host, security, and ask gates before it is ever
// spawned, and its lifecycle (PTY or pipes, background/yield, timeout,
// truncation) is tracked in an in-memory session registry.
package sandboxexec

import "errors"

// Named gate failures, surfaced verbatim in rpc.res errors per spec §4.F.
var (
	ErrElevatedNotAvailable  = errors.New("elevated-not-available")
	ErrHostNotAllowed        = errors.New("host-not-allowed")
	ErrSecurityDeny          = errors.New("security=deny")
	ErrAllowlistMiss         = errors.New("allowlist-miss")
	ErrApprovalTimeout       = errors.New("approval-timeout")
	ErrUserDenied            = errors.New("user-denied")
	ErrNodeNotPaired         = errors.New("node-not-paired")
	ErrCommandTimedOut       = errors.New("command-timed-out")
	ErrCommandExitedNonZero  = errors.New("command-exited-non-zero")
	ErrEmptyCommand          = errors.New("sandboxexec: empty command")
	ErrNodeCommandNotAllowed = errors.New("node command not allowed")
	ErrSessionNotFound       = errors.New("sandboxexec: exec session not found")
)
