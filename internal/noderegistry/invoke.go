package noderegistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clawdbot/gateway/internal/wire"
)

// FrameSender delivers a frame to a specific connected node's socket.
// Implemented by internal/hub.
type FrameSender interface {
	SendToNode(nodeID string, e *wire.Envelope) error
}

// ticket tracks one in-flight (or already-resolved) node.invoke, keyed
// by (nodeId, idempotencyKey) so a retried call attaches to the same
// result instead of re-issuing the command, per spec §5.
type ticket struct {
	mu       sync.Mutex
	waiters  []chan wire.NodeInvokeResult
	result   *wire.NodeInvokeResult
	resolved bool
}

// Router forwards node.invoke calls to connected nodes and correlates
// their node.invoke.result responses back to callers, per spec §4.G.
type Router struct {
	registry *Registry
	sender   FrameSender

	mu      sync.Mutex
	tickets map[string]*ticket // key: nodeId + "\x00" + idempotencyKey
}

func NewRouter(registry *Registry, sender FrameSender) *Router {
	return &Router{
		registry: registry,
		sender:   sender,
		tickets:  map[string]*ticket{},
	}
}

// SetSender wires the frame sender after construction, for callers that
// build the Router before the Hub implementing FrameSender exists (the
// two have a circular dependency at the composition root: the Hub's
// Config takes a Router, and the Router needs the Hub to send frames).
func (r *Router) SetSender(sender FrameSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = sender
}

func ticketKey(nodeID, idempotencyKey string) string {
	return nodeID + "\x00" + idempotencyKey
}

// Invoke implements spec §4.G's node.invoke(nodeId, command, params,
// idempotencyKey, timeoutMs?): validates the command against both the
// node's declared allowlist and the platform catalog, then creates or
// attaches to an Invoke Ticket and waits for the node's result.
func (r *Router) Invoke(ctx context.Context, nodeID, command string, params wire.Value, idempotencyKey string, timeout time.Duration) (wire.NodeInvokeResult, error) {
	node, ok := r.registry.Get(nodeID)
	if !ok {
		return wire.NodeInvokeResult{}, fmt.Errorf("noderegistry: node %s not connected", nodeID)
	}
	if !node.CommandAllowed(command) {
		return wire.NodeInvokeResult{}, fmt.Errorf("noderegistry: node command not allowed: %s", command)
	}

	key := ticketKey(nodeID, idempotencyKey)
	r.mu.Lock()
	t, exists := r.tickets[key]
	if !exists {
		t = &ticket{}
		r.tickets[key] = t
	}
	r.mu.Unlock()

	t.mu.Lock()
	if t.resolved {
		result := *t.result
		t.mu.Unlock()
		return result, nil
	}
	waiter := make(chan wire.NodeInvokeResult, 1)
	first := len(t.waiters) == 0
	t.waiters = append(t.waiters, waiter)
	t.mu.Unlock()

	requestID := idempotencyKey
	if first {
		if err := r.sender.SendToNode(nodeID, wire.NewNodeInvokeRequest(requestID, nodeID, command, params)); err != nil {
			return wire.NodeInvokeResult{}, fmt.Errorf("noderegistry: send invoke: %w", err)
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-waiter:
		return res, nil
	case <-timer.C:
		return wire.NodeInvokeResult{}, fmt.Errorf("noderegistry: invoke %s timed out", command)
	case <-ctx.Done():
		return wire.NodeInvokeResult{}, ctx.Err()
	}
}

// Resolve delivers a node's node.invoke.result to every waiter attached
// to its ticket, and caches the result for late/duplicate arrivals.
func (r *Router) Resolve(nodeID string, result wire.NodeInvokeResult) {
	key := ticketKey(nodeID, result.ID)
	r.mu.Lock()
	t, ok := r.tickets[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.result = &result
	t.resolved = true
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	for _, w := range waiters {
		w <- result
	}
}

// FailAllForNode resolves every in-flight ticket for nodeID with
// node-disconnected, per spec §4.G ("On node disconnect, in-flight
// tickets fail with node-disconnected").
func (r *Router) FailAllForNode(nodeID string) {
	r.mu.Lock()
	var affected []*ticket
	prefix := nodeID + "\x00"
	for key, t := range r.tickets {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			affected = append(affected, t)
		}
	}
	r.mu.Unlock()

	for _, t := range affected {
		t.mu.Lock()
		if !t.resolved {
			result := wire.NodeInvokeResult{NodeID: nodeID, OK: false, Error: "node-disconnected"}
			t.result = &result
			t.resolved = true
			waiters := t.waiters
			t.waiters = nil
			t.mu.Unlock()
			for _, w := range waiters {
				w <- result
			}
			continue
		}
		t.mu.Unlock()
	}
}

// ResolveRunNode implements sandboxexec.NodeInvoker: it picks the
// single paired node declaring system.run, or the explicitly requested
// one, failing if the requested node isn't paired or none is available.
// It returns the node's platform alongside its id so the caller can
// build a shell invocation matching that node's OS.
func (r *Router) ResolveRunNode(ctx context.Context, requested string) (string, string, error) {
	if requested != "" {
		node, ok := r.registry.Get(requested)
		if !ok {
			return "", "", fmt.Errorf("noderegistry: requested node %s not paired", requested)
		}
		return requested, string(node.Platform), nil
	}
	candidates := r.registry.NodesDeclaring("system.run")
	switch len(candidates) {
	case 0:
		return "", "", fmt.Errorf("noderegistry: no paired node declares system.run")
	case 1:
		return candidates[0].NodeID, string(candidates[0].Platform), nil
	default:
		return "", "", fmt.Errorf("noderegistry: multiple nodes declare system.run; specify one")
	}
}

// InvokeSystemRun implements sandboxexec.NodeInvoker: it wraps Invoke
// for the system.run command, using a fresh time-based key
// ("run-<unix nanos>") as the idempotency key since each exec is a
// fresh, uncorrelated invocation.
// argv is expected to already be the fully platform-wrapped shell
// invocation (the caller builds it from ResolveRunNode's platform,
// e.g. via sandboxexec's nodeArgv) since the node itself just runs
// whatever string it's given.
func (r *Router) InvokeSystemRun(ctx context.Context, nodeID, argv string, timeout time.Duration) (string, error) {
	idempotencyKey := fmt.Sprintf("run-%d", time.Now().UnixNano())
	res, err := r.Invoke(ctx, nodeID, "system.run", wire.NewMap(map[string]wire.Value{
		"argv": wire.NewString(argv),
	}), idempotencyKey, timeout)
	if err != nil {
		return "", err
	}
	if !res.OK {
		return "", fmt.Errorf("noderegistry: system.run failed: %s", res.Error)
	}
	return res.PayloadJSON, nil
}
