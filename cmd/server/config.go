package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clawdbot/gateway/internal/agent"
	"github.com/clawdbot/gateway/internal/orchestrator"
	"github.com/clawdbot/gateway/internal/sandboxexec"
	"github.com/clawdbot/gateway/internal/toolpolicy"
)

// AgentConfig is one entry of the top-level agents list in the config file.
type AgentConfig struct {
	ID            string   `mapstructure:"id"`
	Host          string   `mapstructure:"host"` // "gateway", "sandbox", "node"
	WorkspaceRoot string   `mapstructure:"workspaceRoot"`
	PathPrepend   []string `mapstructure:"pathPrepend"`

	ElevatedEnabled   bool     `mapstructure:"elevatedEnabled"`
	ElevatedProviders []string `mapstructure:"elevatedProviders"`

	ToolAllow []string `mapstructure:"toolAllow"`
	ToolDeny  []string `mapstructure:"toolDeny"`
}

// Config is the gateway process's full startup configuration, loaded by
// viper from (in ascending precedence) ~/.clawdbot/config.yaml, CLAWDBOT_*
// environment variables, and `serve` flags.
type Config struct {
	ListenAddr string `mapstructure:"listenAddr"`

	AuthToken        string `mapstructure:"authToken"`
	AuthPasswordHash string `mapstructure:"authPasswordHash"`

	StateDir          string `mapstructure:"stateDir"`
	SessionStorePath  string `mapstructure:"sessionStorePath"`
	ApprovalsPath     string `mapstructure:"approvalsPath"`
	ApprovalSocket    string `mapstructure:"approvalSocket"`
	ApprovalToken     string `mapstructure:"approvalToken"`
	EventLogPath      string `mapstructure:"eventLogPath"`
	SessionCacheTTLMs int    `mapstructure:"sessionCacheTtlMs"`

	DefaultAgentID string        `mapstructure:"defaultAgentId"`
	MainAgentID    string        `mapstructure:"mainAgentId"`
	Agents         []AgentConfig `mapstructure:"agents"`
	AllTools       []string      `mapstructure:"allTools"`
	GlobalToolDeny []string      `mapstructure:"globalToolDeny"`

	DebounceMs int    `mapstructure:"debounceMs"`
	QueueCap   int    `mapstructure:"queueCap"`
	DropPolicy string `mapstructure:"dropPolicy"`

	TurnCommand string `mapstructure:"turnCommand"`
	TurnShell   string `mapstructure:"turnShell"`
	TurnTimeout int    `mapstructure:"turnTimeoutSeconds"`

	ContainerNames map[string]string `mapstructure:"containerNames"`
}

// loadConfig builds the effective Config per spec §7's precedence order:
// flags override env vars override the config file override built-in
// defaults. cfgFile, if non-empty, is used instead of the default
// ~/.clawdbot/config.yaml path.
func loadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("listenAddr", ":8080")
	v.SetDefault("stateDir", defaultStateDir())
	v.SetDefault("sessionCacheTtlMs", 30*60*1000)
	v.SetDefault("defaultAgentId", "main")
	v.SetDefault("mainAgentId", "main")
	v.SetDefault("allTools", []string{"exec", "exec.cancel", "node.invoke", "browser", "memory", "snapshot"})
	v.SetDefault("debounceMs", 300)
	v.SetDefault("queueCap", 20)
	v.SetDefault("dropPolicy", "oldest")
	v.SetDefault("turnCommand", "claude -p")
	v.SetDefault("turnShell", "/bin/sh")
	v.SetDefault("turnTimeoutSeconds", 60)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".clawdbot"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CLAWDBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SessionStorePath == "" {
		cfg.SessionStorePath = filepath.Join(cfg.StateDir, "sessions.json")
	}
	if cfg.ApprovalsPath == "" {
		cfg.ApprovalsPath = filepath.Join(cfg.StateDir, "approvals.json")
	}
	if cfg.ApprovalSocket == "" {
		cfg.ApprovalSocket = filepath.Join(cfg.StateDir, "approve.sock")
	}
	if cfg.EventLogPath == "" {
		cfg.EventLogPath = filepath.Join(cfg.StateDir, "events.db")
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []AgentConfig{{
			ID:            cfg.DefaultAgentID,
			Host:          "gateway",
			WorkspaceRoot: filepath.Join(cfg.StateDir, "workspace", cfg.DefaultAgentID),
		}}
	}
	return cfg, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawdbot"
	}
	return filepath.Join(home, ".clawdbot")
}

func hostFromString(s string) sandboxexec.Host {
	switch s {
	case "sandbox":
		return sandboxexec.HostSandbox
	case "node":
		return sandboxexec.HostNode
	default:
		return sandboxexec.HostGateway
	}
}

// agentEntries converts the config file's agents list into the
// agent.Registry constructor's Config slice.
func agentEntries(cfg Config) []agent.Config {
	entries := make([]agent.Config, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		entries = append(entries, agent.Config{
			AgentID:           a.ID,
			Host:              hostFromString(a.Host),
			WorkspaceRoot:     a.WorkspaceRoot,
			PathPrepend:       a.PathPrepend,
			ElevatedEnabled:   a.ElevatedEnabled,
			ElevatedProviders: a.ElevatedProviders,
			ToolAllow:         a.ToolAllow,
			ToolDeny:          a.ToolDeny,
		})
	}
	return entries
}

func dropPolicyFromString(s string) orchestrator.DropPolicy {
	switch s {
	case "newest":
		return orchestrator.DropNewest
	case "reject":
		return orchestrator.DropReject
	default:
		return orchestrator.DropOldest
	}
}

func queueConfig(cfg Config) orchestrator.QueueConfig {
	return orchestrator.QueueConfig{
		DebounceMs: cfg.DebounceMs,
		Cap:        cfg.QueueCap,
		DropPolicy: dropPolicyFromString(cfg.DropPolicy),
	}
}

func globalToolLayer(cfg Config) toolpolicy.Layer {
	return toolpolicy.Layer{Deny: cfg.GlobalToolDeny}
}

func turnTimeout(cfg Config) time.Duration {
	if cfg.TurnTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(cfg.TurnTimeout) * time.Second
}
