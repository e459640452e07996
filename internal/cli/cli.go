// Package cli defines the command-line interface.
package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/pborenstein/apantli/internal/api"
	"github.com/pborenstein/apantli/internal/buildinfo"
	"github.com/pborenstein/apantli/internal/config"
	"github.com/pborenstein/apantli/internal/executor"
	"github.com/pborenstein/apantli/internal/ledger"
	"github.com/pborenstein/apantli/internal/logging"
	"github.com/pborenstein/apantli/internal/provider"
)

type serveOptions struct {
	host          string
	port          int
	configPath    string
	dsn           string
	timeout       int
	retries       int
	retentionDays int
	logFile       string
	debug         bool
	openBrowser   bool
}

// NewRootCommand builds the CLI tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "apantli",
		Short:        "Lightweight LLM gateway with cost tracking",
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "0.0.0.0", "listen address")
	flags.IntVar(&opts.port, "port", 4000, "listen port")
	flags.StringVar(&opts.configPath, "config", "config.yaml", "model configuration file")
	flags.StringVar(&opts.dsn, "db", "requests.db", "ledger DSN: a SQLite path or a postgres:// URL")
	flags.IntVar(&opts.timeout, "timeout", int(config.DefaultTimeout/time.Second), "default upstream timeout in seconds")
	flags.IntVar(&opts.retries, "retries", config.DefaultRetries, "default upstream retry count")
	flags.IntVar(&opts.retentionDays, "retention-days", 0, "delete ledger rows older than this many days (0 keeps everything)")
	flags.StringVar(&opts.logFile, "log-file", "", "also write logs to this file, with rotation")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&opts.openBrowser, "open", false, "open the dashboard in a browser after startup")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	// API keys commonly live in a local .env next to the config.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warnf("cli: could not load .env: %v", err)
	}

	if err := logging.Configure(logging.Options{File: opts.logFile, Debug: opts.debug}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	defaults := config.Defaults{
		Timeout: time.Duration(opts.timeout) * time.Second,
		Retries: opts.retries,
	}
	store, err := config.NewStore(opts.configPath, defaults)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Infof("cli: loaded %d model profile(s) from %s", store.Snapshot().Len(), opts.configPath)

	led, err := ledger.Open(ledger.Config{DSN: opts.dsn, RetentionDays: opts.retentionDays})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Watch blocks until ctx is done, so it gets its own goroutine.
	go func() {
		if err := store.Watch(ctx); err != nil {
			logging.Warnf("cli: config hot reload unavailable: %v", err)
		}
	}()

	exec := executor.New(provider.NewHTTPClient())
	server := api.NewServer(store, exec, led)

	addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
	if opts.openBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			url := "http://" + addr
			if opts.host == "0.0.0.0" {
				url = fmt.Sprintf("http://localhost:%d", opts.port)
			}
			if err := open.Run(url); err != nil {
				logging.Debugf("cli: could not open browser: %v", err)
			}
		}()
	}

	serveErr := server.Run(ctx, addr)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := led.Close(closeCtx); err != nil {
		logging.Errorf("cli: ledger close failed: %v", err)
	}
	return serveErr
}
