package client

import (
	"context"
	"os"
	"time"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// Reconcile runs one sync pass against a server listing, under the
// directory mutex. Per file the decision is:
//
//	missing locally            -> Fetch
//	local mtime newer          -> Store
//	server mtime newer         -> Fetch; AlreadyExists means identical
//	                              content, so adopt the server mtime
//	equal mtimes               -> nothing
//
// Files that exist only locally are left alone; deletions propagate only
// through explicit Delete calls. Transient failures are logged and retried
// on the next pass, which makes the pass idempotent: a second run over an
// unchanged listing does no RPC work beyond the CRC short-circuits.
func (c *Client) Reconcile(files []dfs.FileInfo) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()
	c.reconcileLocked(files)
}

func (c *Client) reconcileLocked(files []dfs.FileInfo) {
	for _, remote := range files {
		if remote.Name == "" || (remote.Mtime == 0 && remote.Ctime == 0) {
			continue // stat raced a delete on the server (name only); next pass
		}

		local, err := c.mountDir.Stat(remote.Name)
		switch {
		case os.IsNotExist(err):
			if ferr := c.Fetch(remote.Name); ferr != nil && dfs.StatusOf(ferr) != dfs.StatusAlreadyExists {
				logger.Warn("Reconcile fetch failed", "file", remote.Name, "error", ferr)
			}

		case err != nil:
			logger.Warn("Reconcile stat failed", "file", remote.Name, "error", err)

		case local.Mtime > remote.Mtime:
			if _, serr := c.Store(remote.Name); serr != nil && dfs.StatusOf(serr) != dfs.StatusAlreadyExists {
				logger.Warn("Reconcile store failed", "file", remote.Name, "error", serr)
			}

		case local.Mtime < remote.Mtime:
			ferr := c.Fetch(remote.Name)
			switch {
			case ferr == nil:
				// Content replaced; the local filesystem stamped it.
			case dfs.StatusOf(ferr) == dfs.StatusAlreadyExists:
				// Identical bytes, older local timestamp: adopt the
				// server's so the next pass is a no-op.
				if terr := c.mountDir.Touch(remote.Name, remote.Mtime); terr != nil {
					logger.Warn("Reconcile touch failed", "file", remote.Name, "error", terr)
				}
			default:
				logger.Warn("Reconcile fetch failed", "file", remote.Name, "error", ferr)
			}
		}
	}
}

// RunCallbackLoop keeps one CallbackList long poll in flight and reconciles
// on every reply, re-arming immediately after each round. A failed poll
// backs off for the reset interval before retrying. Blocks until ctx is
// cancelled.
func (c *Client) RunCallbackLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		files, err := c.CallbackList(ctx, "")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Callback poll failed; will retry",
				"error", err, "retry_in", c.resetInterval)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.resetInterval):
			}
			continue
		}

		c.Reconcile(files)
	}
}

// SyncOnce fetches a listing and runs a single reconcile pass. Used by the
// watcher and by one-shot CLI syncs.
func (c *Client) SyncOnce() error {
	files, err := c.List()
	if err != nil {
		return err
	}
	c.Reconcile(files)
	return nil
}
