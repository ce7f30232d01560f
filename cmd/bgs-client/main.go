package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aeolun/bgsclient/pkg/client"
	"github.com/aeolun/bgsclient/pkg/client/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version information set at build time.
var version = "dev"

type options struct {
	configPath  string
	server      string
	tui         bool
	metricsAddr string
	verbose     bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "bgs-client [host port]",
		Short: "Console client for BGS servers",
		Long: `Connects to a BGS server and turns each input line into a protocol
frame. Server replies are printed one per line.

Commands:
  REGISTER <username> <password>
  LOGIN <username> <password>
  LOGOUT
  FOLLOW <0|1> <username>
  POST <content>
  PM <username> <content>
  USERLIST
  STAT <username>
  BLOCK <username>

Examples:
  bgs-client 127.0.0.1 7777
  bgs-client --server ssh://alice@chat.example.com:7778
  bgs-client --server ws://chat.example.com:8080/ws --tui`,
		Args:          cobra.MatchAll(cobra.MaximumNArgs(2), rejectSingleArg),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				opts.server = net.JoinHostPort(args[0], args[1])
			}
			return run(cmd.Context(), opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.configPath, "config", "c", client.DefaultConfigPath, "Path to config file")
	rootCmd.Flags().StringVarP(&opts.server, "server", "s", "", "Server address (host:port, tcp://, ssh://, ws://, wss://)")
	rootCmd.Flags().BoolVar(&opts.tui, "tui", false, "Use the full-screen interface")
	rootCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log frame traffic")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func rejectSingleArg(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return errors.New("expected both host and port, or neither")
	}
	return nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := client.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		cfg.Connection.Server = opts.server
	}
	if opts.tui {
		cfg.Console.Mode = "tui"
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
	}
	if opts.verbose {
		cfg.Logging.Debug = true
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	conn, err := client.NewConnection(cfg.Connection.Server)
	if err != nil {
		return err
	}
	conn.SetLogger(logger)
	conn.SetDialTimeout(cfg.DialTimeout())
	if warning := conn.SecurityWarning(); warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	if err := conn.Connect(); err != nil {
		return err
	}
	defer conn.Close()

	metrics := client.NewMetrics(conn)
	if cfg.Metrics.ListenAddr != "" {
		srv := metrics.Serve(cfg.Metrics.ListenAddr, logger)
		defer srv.Close()
	}

	var notifier client.Notifier
	if cfg.Notifications.Desktop {
		n := ui.NewDesktopNotifier()
		n.SetLogger(logger)
		notifier = n
	}

	if cfg.Console.Mode == "tui" {
		return runTUI(ctx, conn, metrics, notifier, logger)
	}
	return runLine(ctx, cfg, conn, metrics, notifier, logger)
}

func runLine(ctx context.Context, cfg client.Config, conn *client.Connection, metrics *client.Metrics, notifier client.Notifier, logger *log.Logger) error {
	historyFile, err := client.ExpandPath(cfg.Console.HistoryFile)
	if err != nil {
		return err
	}
	if historyFile != "" {
		_ = os.MkdirAll(filepath.Dir(historyFile), 0755)
	}

	editor := ui.NewLineEditor(os.Stdin, ui.EditorConfig{
		Prompt:       cfg.Console.Prompt,
		HistoryFile:  historyFile,
		HistoryLimit: cfg.Console.HistoryLimit,
	})
	defer editor.Close()

	color := cfg.Console.Color && term.IsTerminal(int(os.Stdout.Fd()))
	printer := ui.NewConsolePrinter(editor.Output(os.Stdout), color)

	sess := client.NewSession(conn.Transport(), conn, editor, printer)
	sess.SetLogger(logger)
	sess.SetMetrics(metrics)
	if notifier != nil {
		sess.SetNotifier(notifier)
	}
	return sess.Run(ctx)
}

func runTUI(ctx context.Context, conn *client.Connection, metrics *client.Metrics, notifier client.Notifier, logger *log.Logger) error {
	view := ui.NewTUI("BGS " + conn.GetAddress())

	sess := client.NewSession(conn.Transport(), conn, view, view)
	sess.SetLogger(logger)
	sess.SetMetrics(metrics)
	if notifier != nil {
		sess.SetNotifier(notifier)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx)
		view.Close()
	}()

	if err := view.Run(); err != nil {
		conn.Close()
		<-done
		return fmt.Errorf("interface error: %w", err)
	}
	return <-done
}

// openLogger returns the trace logger. Tracing is on with -v or
// [logging] debug; it goes to [logging] file when set, else stderr.
func openLogger(cfg client.Config) (*log.Logger, func(), error) {
	noop := func() {}
	if !cfg.Logging.Debug {
		return log.New(io.Discard, "", 0), noop, nil
	}
	if cfg.Logging.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds), noop, nil
	}

	path, err := client.ExpandPath(cfg.Logging.File)
	if err != nil {
		return nil, noop, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, noop, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open log file: %w", err)
	}
	return log.New(f, "", log.LstdFlags|log.Lmicroseconds), func() { f.Close() }, nil
}
