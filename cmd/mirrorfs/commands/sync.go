package commands

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/internal/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the client sync daemon",
	Long: `Mirror the local mount directory against the server in both directions.

Two loops cooperate under one directory mutex: a filesystem watcher runs a
reconcile pass on every local change, and a long-poll callback loop pulls the
server's directory listing and reconciles against it. A pass pushes or pulls
only files the server lists; files that exist only locally are left alone.
An initial full sync runs at startup.`,
	RunE: runSync,
}

func init() {
	addClientFlags(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Sync daemon starting",
		"mount", c.MountPath(),
		"client_id", c.ClientID())

	if err := c.SyncOnce(); err != nil {
		logger.Warn("Initial sync failed; continuing", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.RunWatcher(ctx); err != nil {
			logger.Error("Watcher stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.RunCallbackLoop(ctx)
	}()

	wg.Wait()
	logger.Info("Sync daemon stopped")
	return nil
}
