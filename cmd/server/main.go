package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version can be overridden at build time via:
// go build -ldflags "-X main.version=1.2.3"
var version = "0.1.0"

var logo = color.CyanString("\n" +
	" ____ _                    _ _           _\n" +
	"/ ___| | __ ___      _____| | |__   ___ | |_\n" +
	"| |   | |/ _` \\ \\ /\\ / / _` | '_ \\ / _ \\| __|\n" +
	"| |___| | (_| |\\ V  V / (_| | |_) | (_) | |_\n" +
	"\\____|_|\\__,_| \\_/\\_/ \\__,_|_.__/ \\___/ \\__|\n")

var cfgFile string

const shutdownGrace = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "clawdbot-gateway",
	Short: "Clawdbot gateway hub",
	Long:  logo + "\nA multi-channel chatbot gateway: WebSocket hub, exec/approval engine, session orchestrator.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway hub HTTP/WebSocket server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on, e.g. :8080 (overrides config file/env)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml (default ~/.clawdbot/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.ListenAddr = listen
	}

	srv, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Shutdown()

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("clawdbot gateway listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Printf("clawdbot gateway shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
