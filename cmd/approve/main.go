package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/clawdbot/gateway/internal/approvals"
)

// config is the approval CLI's small env-driven configuration: unlike
// the gateway's own layered viper setup, a single-purpose operator tool
// only needs a socket path override and a shared token, so envconfig's
// struct-tag binding is enough on its own.
type config struct {
	Socket string `envconfig:"SOCKET"`
	Token  string `envconfig:"TOKEN"`
}

func loadEnvConfig() config {
	var cfg config
	if err := envconfig.Process("CLAWDBOT_APPROVE", &cfg); err != nil {
		log.Fatalf("clawdbot-approve: %v", err)
	}
	if cfg.Socket == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Socket = filepath.Join(home, ".clawdbot", "approve.sock")
		}
	}
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "clawdbot-approve",
	Short: "Interactively answer pending exec approval requests",
	RunE:  runApprove,
}

func init() {
	rootCmd.Flags().String("socket", "", "path to the gateway's approval socket (overrides CLAWDBOT_APPROVE_SOCKET)")
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg := loadEnvConfig()
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.Socket = socket
	}

	responder, err := approvals.DialResponder(cfg.Socket, cfg.Token)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Socket, err)
	}
	defer responder.Close()

	color.Cyan("clawdbot-approve connected to %s", cfg.Socket)
	reader := bufio.NewReader(os.Stdin)

	for {
		id, req, err := responder.Next()
		if err != nil {
			return fmt.Errorf("waiting for next request: %w", err)
		}

		printRequest(id, req)
		decision := promptDecision(reader)

		if err := responder.Respond(id, decision); err != nil {
			color.Red("failed to send decision: %v", err)
			continue
		}
		color.Green("sent %s for %s", decision, id)
	}
}

func printRequest(id string, req approvals.Request) {
	color.Yellow("\npending approval %s", id)
	fmt.Printf("  agent:    %s\n", req.AgentID)
	fmt.Printf("  host:     %s\n", req.Host)
	fmt.Printf("  security: %s\n", req.Security)
	fmt.Printf("  ask:      %s\n", req.Ask)
	if req.Cwd != "" {
		fmt.Printf("  cwd:      %s\n", req.Cwd)
	}
	color.White("  command:  %s", req.Command)
}

func promptDecision(reader *bufio.Reader) approvals.Decision {
	for {
		fmt.Print("allow once / allow always / deny [o/a/d]: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return approvals.DecisionDeny
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "o", "once", "allow-once":
			return approvals.DecisionAllowOnce
		case "a", "always", "allow-always":
			return approvals.DecisionAllowAlways
		case "d", "deny", "":
			return approvals.DecisionDeny
		default:
			color.Red("unrecognized answer, try again")
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
