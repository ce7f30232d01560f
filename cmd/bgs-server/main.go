package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/bgsclient/pkg/server"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	var (
		configPath  string
		tcpPort     int
		httpPort    int
		sshPort     int
		metricsPort int
		verbose     bool
	)

	rootCmd := &cobra.Command{
		Use:   "bgs-server",
		Short: "In-memory BGS server",
		Long: `Serves the BGS protocol over TCP, with optional WebSocket (/ws)
and SSH listeners. Users, follows, blocks and queued notifications are
kept in memory and snapshotted to SQLite when database_path is set.

Examples:
  bgs-server
  bgs-server --tcp-port 7777 --ssh-port 7778 --http-port 8080
  bgs-server --config ./server.toml --metrics-port 9090`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("tcp-port") {
				tc.Server.TCPPort = tcpPort
			}
			if flags.Changed("http-port") {
				tc.Server.HTTPPort = httpPort
			}
			if flags.Changed("ssh-port") {
				tc.Server.SSHPort = sshPort
			}
			if flags.Changed("metrics-port") {
				tc.Server.MetricsPort = metricsPort
			}

			cfg, err := tc.ToServerConfig()
			if err != nil {
				return err
			}
			return serve(cfg, verbose)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", server.DefaultConfigPath, "Path to config file")
	rootCmd.Flags().IntVar(&tcpPort, "tcp-port", 0, "TCP port")
	rootCmd.Flags().IntVar(&httpPort, "http-port", 0, "WebSocket port (0 disables)")
	rootCmd.Flags().IntVar(&sshPort, "ssh-port", 0, "SSH port (0 disables)")
	rootCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Metrics and health port (0 disables)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every frame")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serve(cfg server.ServerConfig, verbose bool) error {
	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	if verbose {
		srv.EnableDebugLogging(os.Stderr)
	}
	if err := srv.Start(); err != nil {
		return err
	}
	log.Printf("bgs-server %s ready", version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %s, shutting down", sig)

	return srv.Stop()
}
