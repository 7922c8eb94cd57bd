package sandboxexec

import (
	"context"
	"time"

	"github.com/clawdbot/gateway/internal/approvals"
)

// AgentPolicy carries the per-agent static configuration the gating
// pipeline consults: the agent's configured exec host, its elevated
// escalation policy, and its workspace root.
type AgentPolicy struct {
	AgentID string

	ConfiguredHost Host

	ElevatedEnabled   bool
	ElevatedProviders []string // provider ids allowed to request elevated=true

	WorkspaceRoot string
	PathPrepend   []string

	Approvals *approvals.Store
	Socket    *approvals.Server
}

// NodeInvoker is the subset of the node registry the pipeline needs for
// host=node execution, satisfied by internal/noderegistry.Router.
type NodeInvoker interface {
	// ResolveRunNode returns the id and platform of the single paired
	// node declaring system.run, or an error if none/multiple are
	// paired and none was explicitly requested. platform is one of
	// noderegistry's Platform values ("linux", "mac", "windows",
	// "ios"), letting the caller build a shell invocation matching that
	// node's OS before calling InvokeSystemRun.
	ResolveRunNode(ctx context.Context, requested string) (nodeID string, platform string, err error)
	InvokeSystemRun(ctx context.Context, nodeID, argv string, timeout time.Duration) (payloadJSON string, err error)
}

// ContainerRunner is the sandbox-host spawn primitive: it ensures the
// agent's docker container is running and execs a command inside it.
// Grounded on the shape of the nested example pack's Fly Machines
// Launcher interface (Create/Start/Stop/Wait), adapted from managing a
// remote VM lifecycle to managing a local docker container's.
type ContainerRunner interface {
	EnsureRunning(ctx context.Context, agentID string) (containerID string, err error)
	ExecArgv(containerID string, tty bool) (name string, argv []string)
}

// Provider identifies the model/agent provider that requested a
// command, used by the elevation gate.
type Request struct {
	Provider string
	Params   Params
}
