// Command gearboxd keeps transport modules reconciled with their running
// configuration and serves operational state over HTTP and NATS.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gearboxd/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts serveOptions

	root := &cobra.Command{
		Use:           "gearboxd",
		Short:         "Gearbox reconciliation daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: search $GEARBOXD_CONFIG, ./gearboxd.yaml, XDG, /etc/gearboxd)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Reconcile modules and serve the HTTP and NATS surfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	serve.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides http.addr)")
	root.AddCommand(serve)

	root.AddCommand(newQueryCmd(), newCommitCmd(), newResyncCmd())
	return root
}

// loadConfig reads an explicit config file or searches the default
// locations
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// newLogger builds the process logger from the log section
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

