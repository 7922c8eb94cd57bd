package sandboxexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clawdbot/gateway/internal/approvals"
)

func newTestPolicy(t *testing.T, host Host) AgentPolicy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exec-approvals.json")
	store := approvals.New(path)
	full := "full"
	require.NoError(t, store.Update(func(f *approvals.File) error {
		f.Defaults.Security = &full
		return nil
	}))
	return AgentPolicy{
		AgentID:        "main",
		ConfiguredHost: host,
		WorkspaceRoot:  t.TempDir(),
		Approvals:      store,
	}
}

func TestExecGatewayRunsToCompletion(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)

	res, err := engine.Exec(context.Background(), policy, Request{
		Provider: "test",
		Params: Params{
			Command: "echo hello",
			Host:    HostGateway,
			AgentID: "main",
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Contains(t, res.Aggregated, "hello")
}

func TestExecHostMismatchFails(t *testing.T) {
	policy := newTestPolicy(t, HostSandbox)
	engine := NewEngine(nil, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "echo hi", Host: HostGateway, AgentID: "main"},
	})
	require.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestExecElevatedRequiresPolicy(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Provider: "untrusted",
		Params:   Params{Command: "echo hi", Host: HostGateway, Elevated: true, AgentID: "main"},
	})
	require.ErrorIs(t, err, ErrElevatedNotAvailable)
}

func TestExecElevatedAllowedForListedProvider(t *testing.T) {
	policy := newTestPolicy(t, HostSandbox)
	policy.ElevatedEnabled = true
	policy.ElevatedProviders = []string{"trusted"}
	engine := NewEngine(nil, nil)

	res, err := engine.Exec(context.Background(), policy, Request{
		Provider: "trusted",
		Params:   Params{Command: "echo hi", Host: HostSandbox, Elevated: true, AgentID: "main"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
}

func TestExecSecurityDenyBlocksCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec-approvals.json")
	store := approvals.New(path)
	policy := AgentPolicy{
		AgentID:        "main",
		ConfiguredHost: HostGateway,
		WorkspaceRoot:  t.TempDir(),
		Approvals:      store,
	}
	engine := NewEngine(nil, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "echo hi", Host: HostGateway, AgentID: "main"},
	})
	require.ErrorIs(t, err, ErrSecurityDeny)
}

func TestExecAllowlistMatchPermits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exec-approvals.json")
	store := approvals.New(path)
	allowlist := "allowlist"
	require.NoError(t, store.Update(func(f *approvals.File) error {
		f.Defaults.Security = &allowlist
		f.Agents = map[string]approvals.AgentSettings{
			"main": {Allowlist: []approvals.Entry{{Pattern: "echo"}}},
		}
		return nil
	}))
	policy := AgentPolicy{
		AgentID:        "main",
		ConfiguredHost: HostGateway,
		WorkspaceRoot:  t.TempDir(),
		Approvals:      store,
	}
	engine := NewEngine(nil, nil)

	res, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "echo hi", Host: HostGateway, AgentID: "main"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
}

type fakeNodes struct {
	nodeID   string
	platform string
	payload  string
	gotArgv  *string
}

func (f fakeNodes) ResolveRunNode(ctx context.Context, requested string) (string, string, error) {
	if f.nodeID == "" {
		return "", "", ErrNodeNotPaired
	}
	return f.nodeID, f.platform, nil
}

func (f fakeNodes) InvokeSystemRun(ctx context.Context, nodeID, argv string, timeout time.Duration) (string, error) {
	if f.gotArgv != nil {
		*f.gotArgv = argv
	}
	return f.payload, nil
}

func TestExecNodeHostForwardsToInvoker(t *testing.T) {
	policy := newTestPolicy(t, HostNode)
	engine := NewEngine(fakeNodes{nodeID: "n1", payload: `{"ok":true}`}, nil)

	res, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "system.info", Host: HostNode, AgentID: "main"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, `{"ok":true}`, res.Aggregated)
}

func TestExecNodeHostWrapsArgvForUnixPlatform(t *testing.T) {
	var gotArgv string
	policy := newTestPolicy(t, HostNode)
	engine := NewEngine(fakeNodes{nodeID: "n1", platform: "linux", payload: "{}", gotArgv: &gotArgv}, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "echo hi", Host: HostNode, AgentID: "main"},
	})
	require.NoError(t, err)
	require.Equal(t, `sh -lc 'echo hi'`, gotArgv)
}

func TestExecNodeHostWrapsArgvForWindowsPlatform(t *testing.T) {
	var gotArgv string
	policy := newTestPolicy(t, HostNode)
	engine := NewEngine(fakeNodes{nodeID: "n1", platform: "windows", payload: "{}", gotArgv: &gotArgv}, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "echo hi", Host: HostNode, AgentID: "main"},
	})
	require.NoError(t, err)
	require.Equal(t, `cmd /s /c echo hi`, gotArgv)
}

func TestExecNodeHostFailsWhenNotPaired(t *testing.T) {
	policy := newTestPolicy(t, HostNode)
	engine := NewEngine(fakeNodes{}, nil)

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{Command: "system.info", Host: HostNode, AgentID: "main"},
	})
	require.ErrorIs(t, err, ErrNodeNotPaired)
}

func TestExecGatewayTimeoutKillsProcess(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)
	marker := filepath.Join(t.TempDir(), "marker")

	_, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{
			Command: fmt.Sprintf("sleep 2 && touch %s", marker),
			Host:    HostGateway,
			AgentID: "main",
			Timeout: 100 * time.Millisecond,
			YieldMs: 5000,
		},
	})
	require.ErrorIs(t, err, ErrCommandTimedOut)

	time.Sleep(2500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "expected timed-out process to be killed before touching marker")
}

func TestExecCancelKillsForegroundSession(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)
	marker := filepath.Join(t.TempDir(), "marker")

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := engine.Exec(context.Background(), policy, Request{
			Params: Params{
				Command: fmt.Sprintf("sleep 2 && touch %s", marker),
				Host:    HostGateway,
				AgentID: "main",
				YieldMs: 5000,
			},
		})
		resultCh <- res
		errCh <- err
	}()

	var id string
	require.Eventually(t, func() bool {
		e2 := engine
		e2.sessions.mu.Lock()
		defer e2.sessions.mu.Unlock()
		for sid := range e2.sessions.sessions {
			id = sid
			return true
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Cancel(id))

	<-resultCh
	require.Error(t, <-errCh)

	time.Sleep(2500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "expected cancelled foreground process to be killed before touching marker")
}

func TestExecCancelDoesNotKillBackgroundedSession(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)
	marker := filepath.Join(t.TempDir(), "marker")

	res, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{
			Command:    fmt.Sprintf("sleep 1 && touch %s", marker),
			Host:       HostGateway,
			AgentID:    "main",
			Background: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, res.Status)

	require.NoError(t, engine.Cancel(res.ID))

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(marker)
		return statErr == nil
	}, 2*time.Second, 20*time.Millisecond, "expected backgrounded process to survive cancel and finish")
}

func TestExecContextCancelKillsForegroundSession(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)
	marker := filepath.Join(t.TempDir(), "marker")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := engine.Exec(ctx, policy, Request{
			Params: Params{
				Command: fmt.Sprintf("sleep 2 && touch %s", marker),
				Host:    HostGateway,
				AgentID: "main",
				YieldMs: 5000,
			},
		})
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	require.Error(t, <-errCh)

	time.Sleep(2500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "expected context-cancelled process to be killed before touching marker")
}

func TestExecCancelUnknownSessionErrors(t *testing.T) {
	engine := NewEngine(nil, nil)
	require.ErrorIs(t, engine.Cancel("nope"), ErrSessionNotFound)
}

func TestExecBackgroundReturnsImmediately(t *testing.T) {
	policy := newTestPolicy(t, HostGateway)
	engine := NewEngine(nil, nil)

	res, err := engine.Exec(context.Background(), policy, Request{
		Params: Params{
			Command:    "sleep 0.2 && echo done",
			Host:       HostGateway,
			AgentID:    "main",
			Background: true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, res.Status)

	require.Eventually(t, func() bool {
		r, ok := engine.Get(res.ID)
		return ok && r.Status == StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)
}
