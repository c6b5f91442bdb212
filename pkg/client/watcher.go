package client

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/pkg/mount"
)

// RunWatcher watches the mount directory and runs a sync pass on every
// event. Events are not coalesced: the pass is cheap when nothing is out of
// sync, because every arm of the reconciler resolves to a CRC
// short-circuit or a no-op. Staging files and pure chmod events are
// ignored — the former are our own in-flight writes, the latter change
// nothing the protocol carries.
//
// The sync pass runs under the directory mutex (inside Reconcile), which is
// what keeps the watcher and the callback loop from racing each other over
// the same files. Blocks until ctx is cancelled.
func (c *Client) RunWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(c.mountDir.Path()); err != nil {
		return err
	}

	logger.Info("Watching mount directory", "path", c.mountDir.Path())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(event) {
				continue
			}

			logger.Debug("Filesystem event", "op", event.Op.String(), "name", event.Name)
			if err := c.SyncOnce(); err != nil {
				logger.Warn("Watcher sync failed; will retry on next event", "error", err)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", werr)
		}
	}
}

func relevantEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return !mount.IsStaging(filepath.Base(event.Name))
}
