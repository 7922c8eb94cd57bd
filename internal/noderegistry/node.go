// Package noderegistry tracks connected node peers (companion apps on
// iOS/mac/linux/windows) and routes node.invoke RPCs to them, per spec
// §4.G. Frame names and the pair/hello handshake are grounded on the
// clawgo reference client's pair-request/pair-ok/hello/hello-ok and
// invoke/invoke-res exchange.
package noderegistry

import (
	"sync"
	"time"
)

// Platform is a node's operating system family.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformMac     Platform = "mac"
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
)

// Node is a connected companion-app peer, per spec §3.
type Node struct {
	NodeID      string
	DisplayName string
	Platform    Platform
	Commands    []string
	LastSeenAt  time.Time

	// attachedConn is opaque to this package; the hub sets it to
	// whatever it needs to write frames back to the node's socket.
	attachedConn any
}

// platformCatalog is the hardcoded per-platform command allowlist from
// spec §4.G: a node may only be invoked for a command that is both in
// its own declared allowlist AND in its platform's catalog here.
var platformCatalog = map[Platform]map[string]bool{
	PlatformIOS:     set("system.run", "canvas.snapshot", "clipboard.read", "clipboard.write", "notify.push"),
	PlatformMac:     set("system.run", "canvas.snapshot", "clipboard.read", "clipboard.write", "notify.push", "shell.exec"),
	PlatformLinux:   set("system.run", "canvas.snapshot", "clipboard.read", "clipboard.write", "shell.exec"),
	PlatformWindows: set("system.run", "canvas.snapshot", "clipboard.read", "clipboard.write", "shell.exec"),
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// CommandAllowed reports whether command may be invoked on this node:
// declared by the node itself and present in its platform's catalog.
func (n *Node) CommandAllowed(command string) bool {
	declared := false
	for _, c := range n.Commands {
		if c == command {
			declared = true
			break
		}
	}
	if !declared {
		return false
	}
	catalog, ok := platformCatalog[n.Platform]
	if !ok {
		return false
	}
	return catalog[command]
}

// Registry is the process-wide table of connected nodes.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: map[string]*Node{}}
}

// Attach records a node from its hello frame, per spec §4.G ("On node
// hello: validate role=node, record {nodeId, platform, commands[]}").
func (r *Registry) Attach(nodeID, displayName string, platform Platform, commands []string, conn any) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &Node{
		NodeID:       nodeID,
		DisplayName:  displayName,
		Platform:     platform,
		Commands:     commands,
		LastSeenAt:   time.Now(),
		attachedConn: conn,
	}
	r.nodes[nodeID] = n
	return n
}

// Detach removes a node, e.g. on socket close (after any grace period
// the caller enforces).
func (r *Registry) Detach(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
}

func (r *Registry) Get(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// List returns a snapshot of all currently connected nodes.
func (r *Registry) List() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// NodesDeclaring returns connected nodes that declare command in their
// own allowlist (used to resolve the implicit node for exec host=node
// when the caller didn't name one).
func (r *Registry) NodesDeclaring(command string) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Node
	for _, n := range r.nodes {
		for _, c := range n.Commands {
			if c == command {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
