package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/telemetry"
	"github.com/mirrorfs/mirrorfs/pkg/api"
	"github.com/mirrorfs/mirrorfs/pkg/metrics"
	promMetrics "github.com/mirrorfs/mirrorfs/pkg/metrics/prometheus"
	"github.com/mirrorfs/mirrorfs/pkg/server"
)

var (
	serveListen string
	serveMount  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MirrorFS server",
	Long: `Run the authoritative MirrorFS server over a mount directory.

The server owns the file content; clients converge to it. SIGINT/SIGTERM
trigger a graceful shutdown that waits for in-flight requests.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "TCP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveMount, "mount", "", "mount directory (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveMount != "" {
		cfg.Server.MountPath = serveMount
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "mirrorfs",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownProfiling(); err != nil {
			logger.Warn("Profiler shutdown failed", "error", err)
		}
	}()

	var dfsMetrics metrics.DFSMetrics
	var promImpl *promMetrics.DFSMetrics
	if cfg.API.Enabled {
		promImpl = promMetrics.New()
		dfsMetrics = promImpl
	}

	srv, err := server.New(server.Config{
		Listen:           cfg.Server.Listen,
		MountPath:        cfg.Server.MountPath,
		ChunkSize:        cfg.Server.ChunkSize,
		CallbackInterval: cfg.Server.CallbackInterval,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		Metrics:          dfsMetrics,
	})
	if err != nil {
		return err
	}

	if cfg.API.Enabled {
		registry := promImpl.Registry()
		go func() {
			if err := api.Serve(ctx, cfg.API.Listen, api.NewRouter(srv, registry)); err != nil {
				logger.Error("Status API failed", "error", err)
			}
		}()
	}

	if err := srv.Serve(ctx); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}
