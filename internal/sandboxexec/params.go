package sandboxexec

import (
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
)

// Host is where a command actually runs, per spec §3/§4.F.
type Host string

const (
	HostSandbox Host = "sandbox"
	HostGateway Host = "gateway"
	HostNode    Host = "node"
)

const (
	DefaultYieldMs   = 10_000
	MinYieldMs       = 10
	MaxYieldMs       = 120_000
	DefaultTimeout   = 1800 * time.Second
	ExitGracePeriod  = 1 * time.Second
	MaxOutputChars   = 200_000
	NotifyTailChars  = 400
	pathProbeTimeout = 3 * time.Second
)

// Params is one exec invocation, per spec §4.F.
type Params struct {
	Command      string
	Workdir      string
	Env          map[string]string
	YieldMs      int
	Background   bool
	Timeout      time.Duration
	PTY          bool
	Elevated     bool
	Host         Host
	Security     approvals.Security
	Ask          approvals.Ask
	Node         string
	AgentID      string
	SessionKey   string
	NotifyOnExit bool
}

// Status is an exec session's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the caller-visible outcome of Exec, possibly still running.
type Result struct {
	ID           string
	Status       Status
	ExitCode     int
	Aggregated   string
	Tail         string
	Truncated    bool
	Backgrounded bool
	Err          error
}
