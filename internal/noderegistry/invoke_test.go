package noderegistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clawdbot/gateway/internal/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*wire.Envelope
}

func (f *fakeSender) SendToNode(nodeID string, e *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, e)
	return nil
}

func TestCommandAllowedRequiresBothDeclaredAndCataloged(t *testing.T) {
	n := &Node{Platform: PlatformLinux, Commands: []string{"canvas.snapshot"}}
	require.True(t, n.CommandAllowed("canvas.snapshot"))
	require.False(t, n.CommandAllowed("system.run"))
}

func TestSetSenderRewiresLateBoundSender(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"canvas.snapshot"}, nil)
	router := NewRouter(reg, nil)

	sender := &fakeSender{}
	router.SetSender(sender)

	resultCh := make(chan wire.NodeInvokeResult, 1)
	go func() {
		res, err := router.Invoke(context.Background(), "node1", "canvas.snapshot", wire.Null, "idem-setsender", 2*time.Second)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 10*time.Millisecond)

	router.Resolve("node1", wire.NodeInvokeResult{ID: "idem-setsender", NodeID: "node1", OK: true})

	select {
	case res := <-resultCh:
		require.True(t, res.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("invoke did not resolve")
	}
}

func TestInvokeRejectsUndeclaredCommand(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"canvas.snapshot"}, nil)
	router := NewRouter(reg, &fakeSender{})

	_, err := router.Invoke(context.Background(), "node1", "system.run", wire.Null, "idem-1", time.Second)
	require.ErrorContains(t, err, "node command not allowed")
}

func TestInvokeForwardsAndResolves(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"canvas.snapshot"}, nil)
	sender := &fakeSender{}
	router := NewRouter(reg, sender)

	resultCh := make(chan wire.NodeInvokeResult, 1)
	go func() {
		res, err := router.Invoke(context.Background(), "node1", "canvas.snapshot", wire.Null, "idem-1", 2*time.Second)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 10*time.Millisecond)

	router.Resolve("node1", wire.NodeInvokeResult{ID: "idem-1", NodeID: "node1", OK: true, PayloadJSON: "null"})

	select {
	case res := <-resultCh:
		require.True(t, res.OK)
	case <-time.After(2 * time.Second):
		t.Fatal("invoke did not resolve")
	}
}

func TestInvokeDedupesByIdempotencyKey(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"canvas.snapshot"}, nil)
	sender := &fakeSender{}
	router := NewRouter(reg, sender)

	router.Resolve("node1", wire.NodeInvokeResult{ID: "idem-1", NodeID: "node1", OK: true, PayloadJSON: "1"})

	// The ticket doesn't exist yet since Resolve was called before any
	// Invoke, so this just seeds nothing; verify a second Invoke with
	// the same key attaches to the first's in-flight ticket instead of
	// sending twice.
	go func() {
		_, _ = router.Invoke(context.Background(), "node1", "canvas.snapshot", wire.Null, "idem-2", 2*time.Second)
	}()
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) >= 1
	}, time.Second, 10*time.Millisecond)

	go func() {
		_, _ = router.Invoke(context.Background(), "node1", "canvas.snapshot", wire.Null, "idem-2", 2*time.Second)
	}()
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	sentCount := len(sender.sent)
	sender.mu.Unlock()
	require.Equal(t, 1, sentCount, "second invoke with same idempotency key must not re-send")

	router.Resolve("node1", wire.NodeInvokeResult{ID: "idem-2", NodeID: "node1", OK: true})
}

func TestFailAllForNodeResolvesInFlightTickets(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"canvas.snapshot"}, nil)
	router := NewRouter(reg, &fakeSender{})

	resultCh := make(chan wire.NodeInvokeResult, 1)
	go func() {
		res, _ := router.Invoke(context.Background(), "node1", "canvas.snapshot", wire.Null, "idem-x", 5*time.Second)
		resultCh <- res
	}()
	time.Sleep(50 * time.Millisecond)

	router.FailAllForNode("node1")

	select {
	case res := <-resultCh:
		require.False(t, res.OK)
		require.Equal(t, "node-disconnected", res.Error)
	case <-time.After(time.Second):
		t.Fatal("expected ticket to resolve on disconnect")
	}
}

func TestResolveRunNodePicksSoleCandidate(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"system.run"}, nil)
	router := NewRouter(reg, &fakeSender{})

	nodeID, platform, err := router.ResolveRunNode(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "node1", nodeID)
	require.Equal(t, string(PlatformLinux), platform)
}

func TestResolveRunNodeAmbiguousFails(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformLinux, []string{"system.run"}, nil)
	reg.Attach("node2", "Node Two", PlatformMac, []string{"system.run"}, nil)
	router := NewRouter(reg, &fakeSender{})

	_, _, err := router.ResolveRunNode(context.Background(), "")
	require.Error(t, err)
}

func TestResolveRunNodeExplicitReturnsItsPlatform(t *testing.T) {
	reg := NewRegistry()
	reg.Attach("node1", "Node One", PlatformWindows, []string{"system.run"}, nil)
	router := NewRouter(reg, &fakeSender{})

	nodeID, platform, err := router.ResolveRunNode(context.Background(), "node1")
	require.NoError(t, err)
	require.Equal(t, "node1", nodeID)
	require.Equal(t, string(PlatformWindows), platform)
}
