package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// connState wraps one client connection with buffered I/O. A connection
// carries one RPC at a time; replies are flushed before the next call is
// read.
type connState struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	addr   string
}

func (c *connState) flush() error {
	return c.writer.Flush()
}

// reply writes a single reply frame and flushes it.
func (c *connState) reply(xid uint32, status dfs.Status, message string, body any) error {
	if err := dfs.WriteReply(c.writer, xid, status, message, body); err != nil {
		return err
	}
	return c.flush()
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// closeConns force-closes every live connection during shutdown, unblocking
// handler goroutines parked in reads.
func (s *Server) closeConns() {
	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()
}

// handleConn serves calls from one connection until the peer hangs up, the
// server shuts down, or a poisoned stream forces a close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	s.trackConn(conn)
	defer s.untrackConn(conn)

	c := &connState{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		addr:   conn.RemoteAddr().String(),
	}

	logger.Debug("Client connected", "client", c.addr)

	for {
		// Idle connections wait indefinitely for the next call; per-call
		// deadlines are applied once the header arrives.
		_ = conn.SetDeadline(time.Time{})

		header, body, err := dfs.ReadCall(c.reader)
		if err != nil {
			if err != io.EOF {
				logger.Debug("Read call failed", "client", c.addr, "error", err)
			}
			return
		}

		if poisoned := s.dispatch(ctx, c, header, body); poisoned {
			// A mid-stream abort leaves the framing in an unknown state;
			// the only safe recovery is a fresh connection.
			logger.Debug("Closing poisoned connection", "client", c.addr)
			return
		}
	}
}

// dispatch routes one call to its handler, wrapping it with the per-call
// deadline, metrics, and logging. The returned poisoned flag is true when a
// streaming handler aborted mid-stream and the connection must close.
func (s *Server) dispatch(parent context.Context, c *connState, header *dfs.CallHeader, body *bytes.Reader) bool {
	proc := dfs.ProcName(header.Proc)
	start := time.Now()

	ctx := parent
	if header.DeadlineUnixMilli > 0 {
		deadline := time.UnixMilli(header.DeadlineUnixMilli)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(parent, deadline)
		defer cancel()
		_ = c.conn.SetDeadline(deadline)
	}

	if s.metrics != nil {
		s.metrics.RecordRequestStart(proc)
		defer s.metrics.RecordRequestEnd(proc)
	}

	var status dfs.Status
	var poisoned bool

	switch header.Proc {
	case dfs.ProcStoreFile:
		status, poisoned = s.handleStore(ctx, c, header.XID, body)
	case dfs.ProcFetchFile:
		status, poisoned = s.handleFetch(ctx, c, header.XID, body)
	case dfs.ProcDeleteFile:
		status = s.handleDelete(ctx, c, header.XID, body)
	case dfs.ProcListFiles:
		status = s.handleList(ctx, c, header.XID)
	case dfs.ProcGetFileStatus:
		status = s.handleStat(ctx, c, header.XID, body)
	case dfs.ProcRequestWriteLock:
		status = s.handleRequestWriteLock(ctx, c, header.XID, body)
	case dfs.ProcCallbackList:
		status = s.handleCallbackList(ctx, c, header.XID, body)
	default:
		status = dfs.StatusInternal
		_ = c.reply(header.XID, dfs.StatusInternal, "unknown procedure", nil)
	}

	if s.metrics != nil {
		s.metrics.RecordRequest(proc, status.String(), time.Since(start))
	}

	logger.Debug("Request served",
		"procedure", proc,
		"status", status.String(),
		"client", c.addr,
		"duration_ms", logger.Duration(start))

	return poisoned
}
