package orchestrator

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clawdbot/gateway/internal/sandboxexec"
	"github.com/clawdbot/gateway/internal/sessionstore"
	"github.com/clawdbot/gateway/internal/toolpolicy"
	"github.com/clawdbot/gateway/internal/wire"
)

// EventPublisher is the subset of internal/hub the orchestrator needs to
// emit chat/tick/health events, kept as a local interface so this
// package never imports internal/hub (which itself depends on this
// package's tool dispatch).
type EventPublisher interface {
	BroadcastEvent(event string, payload wire.Value, stateVersion wire.Value)
}

// ToolCall is one LLM-requested tool invocation for the current turn.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is what dispatching a ToolCall produced, fed back into the
// next TurnRunner.Step call.
type ToolResult struct {
	CallID string
	Output string
	Err    error
}

// TurnResult is one step of a turn: either more tool calls to dispatch,
// or a final assistant message that ends the turn.
type TurnResult struct {
	ToolCalls []ToolCall
	Final     string
}

// TurnRunner drives the actual model conversation. Concrete model
// integration is out of scope here per spec's Non-goals ("being a chat
// application itself") — the orchestrator owns only the
// queue/dispatch/event-emission scaffolding around whatever TurnRunner
// a deployment wires in.
type TurnRunner interface {
	Step(ctx context.Context, session *sessionstore.Session, sessionKey string, messages []Message, priorResults []ToolResult) (*TurnResult, error)
}

// SideTools runs tool calls that are neither exec nor node.invoke (the
// spec's "browser, snapshot, memory" side tools).
type SideTools interface {
	RunSideTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// AgentResolver looks up the static per-agent policy a session belongs
// to, for the sandbox executor's gating pipeline.
type AgentResolver interface {
	ResolvePolicy(agentID string) (sandboxexec.AgentPolicy, toolpolicy.Layers, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	SessionStorePath string
	DefaultAgentID   string
	MainAgentID      string
	QueueConfig      QueueConfig

	Sandbox  *sandboxexec.Engine
	Nodes    NodeInvoker
	Agents   AgentResolver
	Runner   TurnRunner
	Side     SideTools
	Publish  EventPublisher
}

// NodeInvoker is the subset of noderegistry.Router the orchestrator
// needs for node.invoke tool calls.
type NodeInvoker interface {
	Invoke(ctx context.Context, nodeID, command string, params wire.Value, idempotencyKey string, timeout time.Duration) (wire.NodeInvokeResult, error)
}

// Orchestrator is the Session Orchestrator of spec §4.I.
type Orchestrator struct {
	cfg Config

	mu     sync.Mutex
	queues map[string]*sessionQueue
}

func New(cfg Config) *Orchestrator {
	if cfg.QueueConfig == (QueueConfig{}) {
		cfg.QueueConfig = DefaultQueueConfig()
	}
	return &Orchestrator{cfg: cfg, queues: map[string]*sessionQueue{}}
}

var directivePattern = regexp.MustCompile(`\b(model|provider)=(\S+)`)

// normalize implements spec §4.I's "Inbound message -> normalize": it
// strips inline directives like `model=gpt-5` out of the message text
// and returns them separately.
func normalize(text string) (cleanText string, directives map[string]string) {
	directives = map[string]string{}
	clean := directivePattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := directivePattern.FindStringSubmatch(m)
		if len(parts) == 3 {
			directives[parts[1]] = parts[2]
		}
		return ""
	})
	return strings.TrimSpace(clean), directives
}

// Submit implements spec §4.I's inbound path: normalize -> look up or
// create the Session entity -> apply directives -> append to the bounded
// FIFO. sessionKey identifies the (agent, surface, peer) tuple per
// spec §3.
func (o *Orchestrator) Submit(sessionKey, channel, rawText string, receivedAt time.Time) error {
	cleanText, directives := normalize(rawText)

	err := sessionstore.Update(o.cfg.SessionStorePath, func(sessions map[string]*sessionstore.Session) error {
		s, ok := sessions[sessionKey]
		if !ok {
			s = sessionstore.NewSession(sessionKey, sessionstore.ChatDirect, receivedAt)
			sessions[sessionKey] = s
		}
		applyDirectives(s, directives)
		s.LastChannel = channel
		s.UpdatedAt = receivedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("orchestrator: apply directives: %w", err)
	}

	q := o.queueFor(sessionKey)
	msg := Message{SessionKey: sessionKey, Channel: channel, Text: cleanText, Directives: directives, ReceivedAt: receivedAt}
	if !q.enqueue(msg) {
		return fmt.Errorf("orchestrator: session %s queue full, message dropped", sessionKey)
	}
	return nil
}

func applyDirectives(s *sessionstore.Session, directives map[string]string) {
	model, hasModel := directives["model"]
	provider, hasProvider := directives["provider"]
	if hasModel || hasProvider {
		if !hasProvider {
			if s.ProviderOverride != nil {
				provider = *s.ProviderOverride
			}
		}
		s.SetModelOverride(provider, model)
	}
}

func (o *Orchestrator) queueFor(sessionKey string) *sessionQueue {
	o.mu.Lock()
	defer o.mu.Unlock()
	q, ok := o.queues[sessionKey]
	if !ok {
		q = newSessionQueue(o.cfg.QueueConfig, func() { o.runTurnIfIdle(sessionKey) })
		o.queues[sessionKey] = q
	}
	return q
}

// EnqueueSystemEvent implements sandboxexec.EventSink (spec §4.F step
// 11): a backgrounded exec's exit is folded back into the session's
// transcript as a synthetic system message and wakes its queue.
func (o *Orchestrator) EnqueueSystemEvent(sessionKey, text string) {
	q := o.queueFor(sessionKey)
	q.enqueue(Message{SessionKey: sessionKey, Channel: "system", Text: text, ReceivedAt: time.Now()})
}

// runTurnIfIdle is the debounce-timer callback: it claims the session's
// single in-flight slot (a no-op if a turn is already running — the
// newly queued messages will be picked up when that turn finishes) and
// runs one full turn.
func (o *Orchestrator) runTurnIfIdle(sessionKey string) {
	q := o.queueFor(sessionKey)
	if !q.tryStart() {
		return
	}
	defer q.finish()

	messages := q.drain()
	if len(messages) == 0 {
		return
	}

	if err := o.runTurn(context.Background(), sessionKey, messages); err != nil {
		log.Printf("orchestrator: turn failed for session %s: %v", sessionKey, err)
	}
}

// runTurn implements spec §4.I's turn body: build transcript -> call
// TurnRunner -> for each tool call, check Tool Policy Layer -> dispatch
// -> feed result back until final -> emit chat events.
func (o *Orchestrator) runTurn(ctx context.Context, sessionKey string, messages []Message) error {
	session, err := sessionstore.Get(o.cfg.SessionStorePath, sessionKey)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		session = sessionstore.NewSession(sessionKey, sessionstore.ChatDirect, time.Now())
	}

	runID := newRunID()
	o.emitChat(runID, sessionKey, "streaming")

	agentID, ok := agentIDFromSessionKey(sessionKey)
	if !ok {
		agentID = o.cfg.DefaultAgentID
	}
	agentPolicy, layers, err := o.cfg.Agents.ResolvePolicy(agentID)
	if err != nil {
		o.emitChat(runID, sessionKey, "final")
		return fmt.Errorf("resolve agent policy: %w", err)
	}

	var results []ToolResult
	for {
		step, err := o.cfg.Runner.Step(ctx, session, sessionKey, messages, results)
		if err != nil {
			o.emitChat(runID, sessionKey, "final")
			return fmt.Errorf("turn step: %w", err)
		}
		if len(step.ToolCalls) == 0 {
			o.emitChat(runID, sessionKey, "final")
			return nil
		}

		o.emitChat(runID, sessionKey, "tool")
		results = make([]ToolResult, 0, len(step.ToolCalls))
		for _, call := range step.ToolCalls {
			results = append(results, o.dispatchToolCall(ctx, agentPolicy, layers, call))
		}
	}
}

// agentIDFromSessionKey extracts <agentId> from a
// "agent:<agentId>:<surface>:<peer>" session key (spec §3's Agent data
// model key convention; same split turnrunner.agentIDFromSessionKey
// uses to resolve a turn's workspace).
func agentIDFromSessionKey(sessionKey string) (string, bool) {
	parts := strings.SplitN(sessionKey, ":", 3)
	if len(parts) != 3 || parts[0] != "agent" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (o *Orchestrator) emitChat(runID, sessionKey, state string) {
	if o.cfg.Publish == nil {
		return
	}
	payload := wire.NewMap(map[string]wire.Value{
		"runId":      wire.NewString(runID),
		"sessionKey": wire.NewString(sessionKey),
		"state":      wire.NewString(state),
	})
	o.cfg.Publish.BroadcastEvent("chat", payload, wire.Null)
}

var runCounter struct {
	mu sync.Mutex
	n  int64
}

// newRunID mints a process-local monotonic run id. Avoids depending on
// crypto/rand or a UUID for something that only needs to be unique
// within one gateway process's lifetime.
func newRunID() string {
	runCounter.mu.Lock()
	runCounter.n++
	n := runCounter.n
	runCounter.mu.Unlock()
	return fmt.Sprintf("run-%d", n)
}
