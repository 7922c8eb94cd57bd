package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clawdbot/gateway/internal/agent"
	"github.com/clawdbot/gateway/internal/approvals"
	"github.com/clawdbot/gateway/internal/eventlog"
	"github.com/clawdbot/gateway/internal/fs"
	"github.com/clawdbot/gateway/internal/hub"
	"github.com/clawdbot/gateway/internal/hubauth"
	"github.com/clawdbot/gateway/internal/noderegistry"
	"github.com/clawdbot/gateway/internal/orchestrator"
	"github.com/clawdbot/gateway/internal/sandboxexec"
	"github.com/clawdbot/gateway/internal/sessions"
	"github.com/clawdbot/gateway/internal/sidetools"
	"github.com/clawdbot/gateway/internal/turnrunner"
	"github.com/clawdbot/gateway/internal/wire"
)

// Server is the gateway process's composition root: it owns every long-
// lived collaborator and exposes the HTTP mux that serves the hub's
// WebSocket endpoint plus a per-agent workspace file browser, mirroring
// the teacher's own Server/Handler split.
type Server struct {
	cfg          Config
	hub          *hub.Hub
	orch         *orchestrator.Orchestrator
	sessions     *sessions.Manager
	eventLog     *eventlog.Log
	approvalsSrv *approvals.Server
	workspaces   map[string]*fs.Workspace
	authr        *hubauth.Authenticator
	liveTurns    *turnrunner.Registry

	startedAt time.Time
}

// NewServer wires every collaborator in dependency order, resolving the
// Hub<->Orchestrator construction cycle the same way noderegistry.Router
// resolves its own late-bound sender: build the value that can start
// with a nil peer, build the peer, then close the loop with a setter.
func NewServer(cfg Config) (*Server, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	authr := hubauth.New(hubauth.Config{Token: cfg.AuthToken, PasswordHash: cfg.AuthPasswordHash})

	nodes := noderegistry.NewRegistry()
	router := noderegistry.NewRouter(nodes, nil) // sender wired in below

	approvalsStore := approvals.New(cfg.ApprovalsPath)
	approvalsSrv := approvals.NewServer(cfg.ApprovalSocket, cfg.ApprovalToken)
	if err := approvalsSrv.Listen(); err != nil {
		return nil, fmt.Errorf("listen approvals socket: %w", err)
	}

	evLog, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	sessionMgr := sessions.NewManager(cfg.SessionStorePath, time.Duration(cfg.SessionCacheTTLMs)*time.Millisecond)

	workspaces := map[string]*fs.Workspace{}
	for _, a := range cfg.Agents {
		if a.WorkspaceRoot == "" {
			continue
		}
		if err := os.MkdirAll(a.WorkspaceRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace for agent %s: %w", a.ID, err)
		}
		workspaces[a.ID] = fs.NewWorkspace(a.ID, a.WorkspaceRoot)
	}

	registry := agent.NewRegistry(agentEntries(cfg), cfg.DefaultAgentID, globalToolLayer(cfg), cfg.AllTools, approvalsStore, approvalsSrv)

	sandboxEngine := sandboxexec.NewEngine(router, &sandboxexec.DockerRunner{ContainerName: cfg.ContainerNames})

	liveTurns := turnrunner.NewRegistry()
	runner := &turnrunner.CLIRunner{
		Shell:      cfg.TurnShell,
		Command:    cfg.TurnCommand,
		Timeout:    turnTimeout(cfg),
		Workspaces: workspaces,
		Sessions:   liveTurns,
	}

	h := hub.New(hub.Config{
		Auth:         authr,
		Nodes:        nodes,
		Invoker:      router,
		SessionStore: cfg.SessionStorePath,
		Approvals:    approvalsSrv,
		Snapshot:     snapshotFunc(cfg),
		EventLog:     evLog,
		Orchestrator: nil, // wired in below
	})
	router.SetSender(h)

	orch := orchestrator.New(orchestrator.Config{
		SessionStorePath: cfg.SessionStorePath,
		DefaultAgentID:   cfg.DefaultAgentID,
		MainAgentID:      cfg.MainAgentID,
		QueueConfig:      queueConfig(cfg),
		Sandbox:          sandboxEngine,
		Nodes:            router,
		Agents:           registry,
		Runner:           runner,
		Side:             sidetools.NewBrowser(),
		Publish:          h,
	})
	h.SetOrchestrator(orch)

	return &Server{
		cfg:          cfg,
		hub:          h,
		orch:         orch,
		sessions:     sessionMgr,
		eventLog:     evLog,
		approvalsSrv: approvalsSrv,
		workspaces:   workspaces,
		authr:        authr,
		liveTurns:    liveTurns,
		startedAt:    time.Now(),
	}, nil
}

// snapshotFunc builds the hub.Snapshot the Handshake/seqGap path sends,
// per spec §6: server identity, feature flags, health ({ok: true}) and
// process uptime. Presence is left empty; the hub's buildSnapshot only
// refreshes UptimeMs on the value returned here.
func snapshotFunc(cfg Config) hub.Snapshot {
	started := time.Now()
	return func() wire.HelloOk {
		return wire.HelloOk{
			Server: map[string]wire.Value{
				"name":    wire.NewString("clawdbot-gateway"),
				"version": wire.NewString(version),
			},
			Features: map[string]wire.Value{
				"chat":       wire.NewBool(true),
				"nodeInvoke": wire.NewBool(true),
			},
			Health:      wire.NewMap(map[string]wire.Value{"ok": wire.NewBool(true)}),
			UptimeMs:    time.Since(started).Milliseconds(),
			StateDir:    cfg.StateDir,
			ConfigPath:  cfg.StateDir,
		}
	}
}

// Handler builds the process's HTTP surface: the hub's WebSocket
// endpoint plus a per-agent workspace file browser, in the same
// mux-of-explicit-routes style as the teacher's cmd/server/main.go.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	mux.HandleFunc("GET /agents/{agentId}/files", s.handleListFiles)
	mux.HandleFunc("GET /agents/{agentId}/files/{path...}", s.handleReadFile)
	mux.HandleFunc("PUT /agents/{agentId}/files/{path...}", s.handleWriteFile)
	mux.HandleFunc("DELETE /agents/{agentId}/files/{path...}", s.handleDeleteFile)

	mux.HandleFunc("GET /agents/{agentId}/sessions/{sessionId}/attach", s.handleAttach)

	return mux
}

// Shutdown releases the process's held resources: the approval socket
// listener, the durable event log, and the in-memory session cache.
func (s *Server) Shutdown() {
	s.approvalsSrv.Close()
	s.eventLog.Close()
	s.sessions.Shutdown()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptimeSec": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) workspaceFor(w http.ResponseWriter, r *http.Request) (*fs.Workspace, bool) {
	agentID := r.PathValue("agentId")
	ws, ok := s.workspaces[agentID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown agent: " + agentID})
		return nil, false
	}
	return ws, true
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	dir := r.URL.Query().Get("path")
	entries, err := ws.List(dir)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	content, err := ws.Read(r.PathValue("path"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	body, err := readAll(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := ws.Write(r.PathValue("path"), body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	if err := ws.Delete(r.PathValue("path")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
