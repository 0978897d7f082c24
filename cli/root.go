// Package cli implements the peerbus command-line interface using Cobra.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CefBoud/peerbus/admin"
	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/types"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFile    string

	// config is loaded before any subcommand runs
	config types.Configuration
)

var rootCmd = &cobra.Command{
	Use:   "peerbus",
	Short: "peerbus - decentralized publish/subscribe",
	Long: `peerbus runs a directory service mapping topics to the peer hosting them,
and peer nodes that host topics, forward publishes and serve subscribers by
push and pull.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	config, err = LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if logFile != "" {
		config.Log.File = logFile
	}
	if err := log.SetOutput(config.Log.File); err != nil {
		return err
	}
	log.SetLogLevel(config.Log.Level)
	return nil
}

// waitForSignal blocks until SIGINT or SIGTERM
func waitForSignal() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("Received shutdown signal")
}

func shutdownAdmin(s *admin.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Warn("admin shutdown: %v", err)
	}
}
