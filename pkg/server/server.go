// Package server implements the authoritative MirrorFS file server: the TCP
// accept loop, the per-connection dispatch, the streaming store and fetch
// handlers, the write-lock and per-file mutex tables, and the async
// callback queue behind the CallbackList long poll.
//
// Locking order, globally: directory mutex, then lock-table mutex, then
// mutex-table mutex, then a per-file mutex. Deadlock freedom follows from
// this total order; no code path takes them in any other sequence, and no
// thread ever holds two per-file mutexes.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	"github.com/mirrorfs/mirrorfs/pkg/bufpool"
	"github.com/mirrorfs/mirrorfs/pkg/metrics"
	"github.com/mirrorfs/mirrorfs/pkg/mount"
)

// Config holds the server's runtime configuration.
type Config struct {
	// Listen is the TCP address to bind.
	Listen string

	// MountPath is the directory of managed files.
	MountPath string

	// ChunkSize bounds streaming frames; content moves in chunks of
	// ChunkSize-1 bytes. Values below dfs.MinChunkSize are rejected.
	ChunkSize int

	// CallbackInterval is the callback processor's periodic tick.
	CallbackInterval time.Duration

	// ShutdownTimeout caps the wait for in-flight requests on shutdown.
	ShutdownTimeout time.Duration

	// Metrics is optional; nil disables collection.
	Metrics metrics.DFSMetrics
}

// Server is the MirrorFS server.
type Server struct {
	mountDir         *mount.Dir
	chunkSize        int
	callbackInterval time.Duration
	shutdownTimeout  time.Duration
	metrics          metrics.DFSMetrics

	locks     *lockTable
	mutexes   *mutexTable
	dirMu     sync.Mutex
	callbacks *callbackQueue
	chunks    *bufpool.Pool

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	listen       string
	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a server over the given mount directory. The mutex table is
// preseeded with every regular file already present, mirroring what a
// restart would otherwise rebuild lazily.
func New(cfg Config) (*Server, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = dfs.DefaultChunkSize
	}
	if cfg.ChunkSize < dfs.MinChunkSize {
		return nil, fmt.Errorf("chunk size %d below minimum %d", cfg.ChunkSize, dfs.MinChunkSize)
	}
	if cfg.CallbackInterval == 0 {
		cfg.CallbackInterval = time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	dir, err := mount.New(cfg.MountPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listen:           cfg.Listen,
		mountDir:         dir,
		chunkSize:        cfg.ChunkSize,
		callbackInterval: cfg.CallbackInterval,
		shutdownTimeout:  cfg.ShutdownTimeout,
		metrics:          cfg.Metrics,
		locks:            newLockTable(),
		mutexes:          newMutexTable(),
		callbacks:        newCallbackQueue(),
		chunks:           bufpool.New(cfg.ChunkSize - 1),
		conns:            make(map[net.Conn]struct{}),
		shutdown:         make(chan struct{}),
	}

	entries, err := dir.List()
	if err != nil {
		return nil, fmt.Errorf("scan mount directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		logger.Debug("Found file", "file", e.Name, "size", e.Size)
	}
	s.mutexes.Preseed(names)

	return s, nil
}

// Serve binds the listen address and serves connections until ctx is
// cancelled or Stop is called. It blocks for the lifetime of the server.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	s.listener = listener

	logger.Info("MirrorFS server started",
		"address", listener.Addr().String(),
		"mount", s.mountDir.Path(),
		"chunk_size", s.chunkSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processCallbacks(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				logger.Error("Accept failed", "error", err)
			}
			break
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}(conn)
	}

	cancel()
	s.closeConns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		logger.Warn("Shutdown timeout elapsed with requests still in flight")
	}
	return nil
}

// Stop closes the listener, unblocking Serve. Safe to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// Addr returns the bound listener address, for tests that listen on ":0".
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// listFiles snapshots the mount directory under the directory mutex.
func (s *Server) listFiles() ([]dfs.FileInfo, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	entries, err := s.mountDir.List()
	if err != nil {
		return nil, err
	}

	files := make([]dfs.FileInfo, 0, len(entries))
	for _, e := range entries {
		files = append(files, dfs.FileInfo{
			Name:     e.Name,
			FileSize: e.Size,
			Mtime:    e.Mtime,
			Ctime:    e.Ctime,
		})
	}
	return files, nil
}

// Files exposes the directory snapshot for the status API.
func (s *Server) Files() ([]dfs.FileInfo, error) {
	return s.listFiles()
}

// Locks exposes the write-lock table for the status API.
func (s *Server) Locks() map[string]string {
	return s.locks.Snapshot()
}
