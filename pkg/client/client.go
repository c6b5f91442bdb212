// Package client implements the MirrorFS client: the per-call RPC surface
// (store, fetch, delete, list, stat, write lock), the directory watcher,
// and the reconciler that mirrors the local mount directory against the
// server's listing.
//
// Concurrency on the client is deliberately coarse: a single directory
// mutex serializes whole-directory work, so the fsnotify watcher, the
// callback long-poll loop, and one-shot syncs never interleave reconcile
// passes. Individual Store, Fetch, and Delete calls do not take the mutex.
// Fine-grained per-file locking on the client buys nothing
// here and is not worth the complexity.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	"github.com/mirrorfs/mirrorfs/pkg/bufpool"
	"github.com/mirrorfs/mirrorfs/pkg/mount"
)

// Config holds the client's runtime configuration.
type Config struct {
	// Server is the server's TCP address.
	Server string

	// MountPath is the local mirror directory.
	MountPath string

	// ClientID overrides the generated identity. The id is the owner token
	// for write locks; it must be stable for the process lifetime and
	// unique across clients.
	ClientID string

	// Deadline is attached to every call except the callback long poll.
	Deadline time.Duration

	// ResetInterval is the back-off before re-arming a failed long poll.
	ResetInterval time.Duration

	// ChunkSize sizes streamed store chunks. Defaults to dfs.DefaultChunkSize.
	ChunkSize int
}

// Client talks to one MirrorFS server on behalf of one mount directory.
type Client struct {
	addr          string
	mountDir      *mount.Dir
	clientID      string
	deadline      time.Duration
	resetInterval time.Duration
	chunkSize     int
	chunks        *bufpool.Pool

	// dirMu serializes whole-directory work: reconcile passes from the
	// watcher, the callback loop, and one-shot syncs.
	dirMu sync.Mutex

	xid atomic.Uint32
}

// New creates a client. A missing ClientID is replaced with a fresh UUID.
func New(cfg Config) (*Client, error) {
	if cfg.Server == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.ResetInterval == 0 {
		cfg.ResetInterval = 3 * time.Second
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = dfs.DefaultChunkSize
	}
	if cfg.ChunkSize < dfs.MinChunkSize {
		return nil, fmt.Errorf("chunk size %d below minimum %d", cfg.ChunkSize, dfs.MinChunkSize)
	}

	dir, err := mount.New(cfg.MountPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		addr:          cfg.Server,
		mountDir:      dir,
		clientID:      cfg.ClientID,
		deadline:      cfg.Deadline,
		resetInterval: cfg.ResetInterval,
		chunkSize:     cfg.ChunkSize,
		chunks:        bufpool.New(cfg.ChunkSize - 1),
	}, nil
}

// ClientID returns the identity used as the write-lock owner token.
func (c *Client) ClientID() string {
	return c.clientID
}

// MountPath returns the local mirror directory.
func (c *Client) MountPath() string {
	return c.mountDir.Path()
}

// call describes one dialed RPC.
type call struct {
	conn net.Conn
}

func (c *call) close() {
	_ = c.conn.Close()
}

// dial opens a connection for one call. When withDeadline is set, the
// call's absolute deadline is applied to the socket and carried in the call
// header; the long poll passes false and waits indefinitely.
func (c *Client) dial(withDeadline bool) (*call, *dfs.CallHeader, error) {
	var deadline time.Time
	dialer := net.Dialer{}
	if withDeadline {
		deadline = time.Now().Add(c.deadline)
		dialer.Deadline = deadline
	}

	conn, err := dialer.Dial("tcp", c.addr)
	if err != nil {
		return nil, nil, mapTransportErr(fmt.Errorf("dial %s: %w", c.addr, err))
	}

	header := &dfs.CallHeader{XID: c.xid.Add(1)}
	if withDeadline {
		_ = conn.SetDeadline(deadline)
		header.DeadlineUnixMilli = deadline.UnixMilli()
	}

	return &call{conn: conn}, header, nil
}

// unary performs a single call/reply exchange.
func (c *Client) unary(proc uint32, req any, into any) error {
	cl, header, err := c.dial(true)
	if err != nil {
		return err
	}
	defer cl.close()

	header.Proc = proc
	if err := dfs.WriteCall(cl.conn, header, req); err != nil {
		return mapTransportErr(err)
	}

	if _, err := dfs.ReadReply(cl.conn, into); err != nil {
		return mapReplyErr(err)
	}
	return nil
}

// mapTransportErr classifies client-side transport failures: timeouts are
// DeadlineExceeded, everything else Cancelled.
func mapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dfs.Errf(dfs.StatusDeadlineExceeded, "%v", err)
	}
	return dfs.Errf(dfs.StatusCancelled, "%v", err)
}

// mapReplyErr passes protocol statuses through and classifies the rest.
func mapReplyErr(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*dfs.StatusError); ok {
		return se
	}
	return mapTransportErr(err)
}

// longPollCtx wires a context cancellation to a connection close, the only
// way to interrupt a read with no deadline.
func longPollCtx(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
