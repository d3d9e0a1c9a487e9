// Command cubedb runs the CubeDB server: a TCP line-protocol front end
// over an in-memory aggregation store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cubedb/cubedb/internal/config"
	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/dump"
	"github.com/cubedb/cubedb/internal/logging"
	"github.com/cubedb/cubedb/internal/metrics"
	"github.com/cubedb/cubedb/internal/protocol"
	"github.com/cubedb/cubedb/internal/server"
)

// version is overridden at build time via -ldflags, matching the way
// the rest of the example set stamps a CLI's version string in.
var version = "0.0.0-dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cubedb",
		Short: "In-memory aggregation store with a line-oriented TCP protocol",
	}
	root.AddCommand(serveCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cubedb version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CubeDB server",
		RunE:  runServe,
	}

	fs := cmd.Flags()
	fs.Int("port", 1985, "TCP port to listen on")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-file", "", "write logs to this file (rotated) instead of stdout")
	fs.String("dump-path", "", "directory for DUMP and autoload on startup")
	fs.String("metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	fs.Int("max-conns", 100, "maximum concurrent connections")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFile)
	m := metrics.New()

	store := cube.New()
	if cfg.DumpPath != "" {
		if err := dump.Restore(cfg.DumpPath, store); err != nil {
			return fmt.Errorf("restoring dump path %q: %w", cfg.DumpPath, err)
		}
		log.Info().Str("dump_path", cfg.DumpPath).Msg("restored store from dump path")
	}
	m.RefreshStoreGauges(store)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, m, log)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := server.New(addr, store, log, m, cfg.MaxConns)

	return srv.Start(ctx, dumpHandler(cfg.DumpPath, store, m, log))
}

// dumpHandler builds the DUMP verb's handler: it needs the configured
// dump path, which the dispatcher itself has no notion of.
func dumpHandler(dumpPath string, store *cube.Store, m *metrics.Metrics, log zerolog.Logger) protocol.Handler {
	return func(_ []string, _ *cube.Store, w *protocol.Writer) error {
		if dumpPath == "" {
			return protocol.NewError(protocol.ErrGeneric, "no --dump-path configured")
		}
		if err := dump.Dump(dumpPath, store); err != nil {
			log.Error().Err(err).Msg("dump failed")
			return protocol.NewError(protocol.ErrGeneric, "%v", err)
		}
		m.RefreshStoreGauges(store)
		return w.WriteOK()
	}
}

func startMetricsServer(ctx context.Context, addr string, m *metrics.Metrics, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
