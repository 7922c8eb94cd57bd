package sandboxexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	gwpty "github.com/clawdbot/gateway/internal/pty"
)

// EventSink receives exec lifecycle events destined for a session's
// chat surface, per spec §4.F step 11. Implemented by
// internal/orchestrator.
type EventSink interface {
	EnqueueSystemEvent(sessionKey, text string)
}

type spawnRequest struct {
	agentID      string
	sessionKey   string
	command      string
	name         string
	argv         []string
	dir          string
	env          []string
	pty          bool
	background   bool
	yieldMs      int
	timeout      time.Duration
	notifyOnExit bool
}

// execSession tracks one spawned command's output and lifecycle.
type execSession struct {
	id      string
	command string

	mu           sync.Mutex
	status       Status
	exitCode     int
	aggregated   bytes.Buffer
	tail         []byte
	truncated    bool
	done         chan struct{}
	err          error
	backgrounded bool
	killFn       func()
}

// setKillFn records how to forcibly terminate the session's process,
// once runPipes/runPTY has actually spawned it.
func (s *execSession) setKillFn(fn func()) {
	s.mu.Lock()
	s.killFn = fn
	s.mu.Unlock()
}

// markBackgrounded records that this session has left the foreground
// (an explicit Background request, or the yield timer elapsing before
// the process exited). Per spec §8, a tool-call cancel signal no
// longer kills a session once it's backgrounded; only the timeout does.
func (s *execSession) markBackgrounded() {
	s.mu.Lock()
	s.backgrounded = true
	s.mu.Unlock()
}

func (s *execSession) isBackgrounded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backgrounded
}

// kill invokes the recorded kill function, if the process has started.
func (s *execSession) kill() {
	s.mu.Lock()
	fn := s.killFn
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func newSessionID() string {
	return uuid.NewString()
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (s *execSession) appendOutput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aggregated.Len() < MaxOutputChars {
		remaining := MaxOutputChars - s.aggregated.Len()
		if remaining >= len(chunk) {
			s.aggregated.Write(chunk)
		} else {
			s.aggregated.Write(chunk[:remaining])
			s.truncated = true
		}
	} else {
		s.truncated = true
	}

	s.tail = append(s.tail, chunk...)
	if len(s.tail) > NotifyTailChars {
		s.tail = s.tail[len(s.tail)-NotifyTailChars:]
	}
}

func (s *execSession) snapshot() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		ID:         s.id,
		Status:     s.status,
		ExitCode:   s.exitCode,
		Aggregated: s.aggregated.String(),
		Tail:       string(s.tail),
		Truncated:  s.truncated,
		Err:        s.err,
	}
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*execSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]*execSession{}}
}

func (r *sessionRegistry) put(s *execSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Get returns the current snapshot of a tracked exec session, for
// polling backgrounded commands.
func (e *Engine) Get(id string) (*Result, bool) {
	e.sessions.mu.Lock()
	s, ok := e.sessions.sessions[id]
	e.sessions.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// SetSink installs the event sink used for exit notifications.
func (e *Engine) SetSink(sink EventSink) {
	e.sink = sink
}

// Cancel implements spec §8's exec cancellation entry point: a
// tool-call-level cancel signal kills a still-foreground session, but
// is a no-op once the session has backgrounded (explicitly or via the
// yield timer) — only enforceTimeout kills a backgrounded session.
func (e *Engine) Cancel(id string) error {
	e.sessions.mu.Lock()
	sess, ok := e.sessions.sessions[id]
	e.sessions.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if sess.isBackgrounded() {
		return nil
	}
	sess.kill()
	return nil
}

// spawn implements spec §4.F steps 9-11: spawn via PTY or pipes,
// stream/aggregate/truncate output, apply the yield/background/timeout
// state machine, and fire exit notifications.
func (e *Engine) spawn(ctx context.Context, req spawnRequest) (*Result, error) {
	if req.command == "" {
		return nil, ErrEmptyCommand
	}

	sess := &execSession{
		id:      newSessionID(),
		command: req.command,
		status:  StatusRunning,
		done:    make(chan struct{}),
	}
	if req.background {
		sess.markBackgrounded()
	}
	e.sessions.put(sess)

	timeout := req.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	yieldMs := req.yieldMs
	if yieldMs <= 0 {
		yieldMs = DefaultYieldMs
	}
	if yieldMs < MinYieldMs {
		yieldMs = MinYieldMs
	}
	if yieldMs > MaxYieldMs {
		yieldMs = MaxYieldMs
	}

	exitCh := make(chan struct{ code int }, 1)
	failCh := make(chan error, 1)

	if req.pty {
		go e.runPTY(req, sess, exitCh, failCh)
	} else {
		go e.runPipes(req, sess, exitCh, failCh)
	}

	go e.enforceTimeout(sess, timeout, exitCh, failCh)
	go e.watchCancel(ctx, sess)

	if req.background {
		go e.awaitBackground(sess, req, exitCh, failCh)
		return sess.snapshot(), nil
	}

	select {
	case r := <-exitCh:
		e.finalize(sess, r.code, nil, req)
		return sess.snapshot(), sess.err
	case err := <-failCh:
		e.finalize(sess, -1, err, req)
		return sess.snapshot(), sess.err
	case <-time.After(time.Duration(yieldMs) * time.Millisecond):
		sess.mu.Lock()
		sess.status = StatusRunning
		sess.mu.Unlock()
		sess.markBackgrounded()
		res := sess.snapshot()
		res.Backgrounded = true
		go e.awaitBackground(sess, req, exitCh, failCh)
		return res, nil
	}
}

// watchCancel implements spec §8's tool-call cancellation signal: the
// caller's ctx is cancelled (e.g. the orchestrator's turn context ends
// or a chat-ui client explicitly cancels the tool call) while the
// session is still foreground, so it kills the process the same way a
// timeout would. Once the session has backgrounded, cancellation is a
// no-op — only enforceTimeout still kills it, per the invariant that a
// backgrounded session outlives its originating tool call.
func (e *Engine) watchCancel(ctx context.Context, sess *execSession) {
	select {
	case <-ctx.Done():
		if !sess.isBackgrounded() {
			sess.kill()
		}
	case <-sess.done:
	}
}

func (e *Engine) awaitBackground(sess *execSession, req spawnRequest, exitCh chan struct{ code int }, failCh chan error) {
	select {
	case r := <-exitCh:
		e.finalize(sess, r.code, nil, req)
	case err := <-failCh:
		e.finalize(sess, -1, err, req)
	}
}

// enforceTimeout implements spec §4.F step 10: a timeout always kills
// the process, regardless of whether the session has backgrounded,
// then gives it ExitGracePeriod to actually exit before finalizing the
// promise with a timeout error.
func (e *Engine) enforceTimeout(sess *execSession, timeout time.Duration, exitCh chan struct{ code int }, failCh chan error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-sess.done:
		return
	}

	sess.kill()

	grace := time.NewTimer(ExitGracePeriod)
	defer grace.Stop()
	select {
	case <-sess.done:
		return
	case <-grace.C:
	}

	select {
	case failCh <- fmt.Errorf("sandboxexec: %w", ErrCommandTimedOut):
	default:
	}
}

func (e *Engine) finalize(sess *execSession, exitCode int, spawnErr error, req spawnRequest) {
	sess.mu.Lock()
	if sess.status != StatusRunning {
		sess.mu.Unlock()
		return
	}
	select {
	case <-sess.done:
		sess.mu.Unlock()
		return
	default:
		close(sess.done)
	}
	sess.exitCode = exitCode
	switch {
	case spawnErr != nil:
		sess.status = StatusFailed
		sess.err = spawnErr
	case exitCode != 0:
		sess.status = StatusFailed
		sess.err = ErrCommandExitedNonZero
	default:
		sess.status = StatusCompleted
	}
	status := sess.status
	tail := string(sess.tail)
	wasBackgrounded := sess.backgrounded
	sess.mu.Unlock()

	if req.notifyOnExit && wasBackgrounded && req.sessionKey != "" && e.sink != nil {
		e.sink.EnqueueSystemEvent(req.sessionKey, fmt.Sprintf(
			"Exec %s (%s, %d) :: %s", status, sess.id[:8], exitCode, tail,
		))
	}
}

func (e *Engine) runPipes(req spawnRequest, sess *execSession, exitCh chan struct{ code int }, failCh chan error) {
	cmd := exec.Command(req.name, req.argv...)
	cmd.Dir = req.dir
	cmd.Env = req.env
	setDetached(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		failCh <- err
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		failCh <- err
		return
	}
	if err := cmd.Start(); err != nil {
		failCh <- err
		return
	}
	sess.setKillFn(func() { killProcessGroup(cmd) })

	var wg sync.WaitGroup
	wg.Add(2)
	go streamInto(sess, stdout, &wg)
	go streamInto(sess, stderr, &wg)
	wg.Wait()

	err = cmd.Wait()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		failCh <- err
		return
	}
	exitCh <- struct{ code int }{code: code}
}

func streamInto(sess *execSession, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sess.appendOutput(chunk)
		}
		if err != nil {
			return
		}
	}
}

// runPTY implements the non-sandbox PTY spawn path of spec §4.F step 9:
// a 120x30 pseudo-terminal that intercepts DSR cursor-position requests
// and synthesizes a reply, so agents scripting against a terminal don't
// hang waiting for a real cursor.
func (e *Engine) runPTY(req spawnRequest, sess *execSession, exitCh chan struct{ code int }, failCh chan error) {
	cmd := exec.Command(req.name, req.argv...)
	cmd.Dir = req.dir
	cmd.Env = req.env
	setDetached(cmd)

	p, err := gwpty.NewCommand(cmd, 120, 30)
	if err != nil {
		failCh <- err
		return
	}
	sess.setKillFn(func() { p.Signal(gwpty.SIGKILL) })

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := p.Read(buf)
			if n > 0 {
				chunk := interceptDSR(p, buf[:n])
				if len(chunk) > 0 {
					sess.appendOutput(chunk)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-p.Done()
	exitCh <- struct{ code int }{code: p.ExitCode()}
}

// dsrRequest is the ANSI Device Status Report cursor-position query.
const dsrRequest = "\x1b[6n"

// interceptDSR strips any embedded cursor-position request and answers
// it with a synthesized position, since there is no real terminal on
// the other end of a non-interactive PTY session.
func interceptDSR(p *gwpty.PTY, data []byte) []byte {
	idx := bytes.Index(data, []byte(dsrRequest))
	if idx < 0 {
		return data
	}
	_, _ = p.Write([]byte("\x1b[1;1R"))
	out := make([]byte, 0, len(data)-len(dsrRequest))
	out = append(out, data[:idx]...)
	out = append(out, data[idx+len(dsrRequest):]...)
	return out
}
