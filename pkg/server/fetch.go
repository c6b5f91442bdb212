package server

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	"github.com/mirrorfs/mirrorfs/pkg/checksum"
)

// handleFetch serves FetchFile. Fetch is read-only: it takes the per-file
// mutex but never the directory mutex or the write lock.
//
// When the client's CRC matches the server's, nothing is transferred; the
// reply is AlreadyExists, and a newer client mtime is adopted (the touch in
// that direction — the reconciler handles the opposite one locally).
func (s *Server) handleFetch(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) (dfs.Status, bool) {
	req := &dfs.FetchFileRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed fetch request", nil)
		return dfs.StatusInternal, false
	}

	path, err := s.mountDir.Resolve(req.Name)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	fileMu := s.mutexes.GetOrCreate(req.Name)
	fileMu.Lock()
	defer fileMu.Unlock()

	entry, err := s.mountDir.Stat(req.Name)
	if err != nil {
		if os.IsNotExist(err) {
			_ = c.reply(xid, dfs.StatusNotFound, "file not found: "+req.Name, nil)
			return dfs.StatusNotFound, false
		}
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	// CRC over the resolved path's content, never over the name.
	serverCRC, err := checksum.File(path)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	if serverCRC == req.CRC {
		if touched := s.touchIfNewer(req.Name, req.Mtime); touched {
			s.callbacks.Signal()
		}
		logger.Debug("Fetch short-circuit", "file", req.Name, "crc", req.CRC)
		_ = c.reply(xid, dfs.StatusAlreadyExists, "content identical", nil)
		return dfs.StatusAlreadyExists, false
	}

	// Proceed: status first, then the chunk stream, then the final status.
	if err := c.reply(xid, dfs.StatusOK, "", nil); err != nil {
		return dfs.StatusInternal, true
	}

	status := s.sendStream(ctx, c, xid, path, entry.Size)
	if status != dfs.StatusOK {
		return status, true
	}

	logger.Debug("Fetch complete", "file", req.Name, "size", entry.Size, "client_id", req.ClientID)
	if err := c.reply(xid, dfs.StatusOK, "", nil); err != nil {
		return dfs.StatusInternal, true
	}
	return dfs.StatusOK, false
}

// sendStream streams the file's content in chunks of ChunkSize-1 bytes.
// The chunk count is derived from the stat size, so a file whose size is an
// exact multiple of the chunk payload ends on a full LAST chunk with no
// trailing empty frame. An empty file is a single empty LAST chunk.
//
// Returns StatusOK when the stream completed; any other status has already
// been sent and poisons the connection.
func (s *Server) sendStream(ctx context.Context, c *connState, xid uint32, path string, size uint64) dfs.Status {
	f, err := os.Open(path)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}
	defer func() { _ = f.Close() }()

	buf := s.chunks.Get()
	defer s.chunks.Put(buf)

	if size == 0 {
		if err := dfs.WriteChunk(c.writer, nil, true); err != nil {
			return dfs.StatusInternal
		}
		return s.flushStream(c, 0)
	}

	remaining := size
	for remaining > 0 {
		if ctx.Err() != nil {
			logger.Warn("Fetch stream cancelled", "file", path, "remaining", remaining)
			// Terminate the chunk run so the client can read the status.
			_ = dfs.WriteChunk(c.writer, nil, true)
			_ = c.reply(xid, dfs.StatusDeadlineExceeded, "deadline exceeded mid-stream", nil)
			return dfs.StatusDeadlineExceeded
		}

		n := uint64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			_ = dfs.WriteChunk(c.writer, nil, true)
			_ = c.reply(xid, dfs.StatusInternal, "file read failed", nil)
			return dfs.StatusInternal
		}
		remaining -= n

		if err := dfs.WriteChunk(c.writer, buf[:n], remaining == 0); err != nil {
			return dfs.StatusInternal
		}
	}

	return s.flushStream(c, size)
}

func (s *Server) flushStream(c *connState, sent uint64) dfs.Status {
	if err := c.flush(); err != nil {
		return dfs.StatusInternal
	}
	if s.metrics != nil {
		s.metrics.RecordBytesTransferred("FetchFile", "out", sent)
	}
	return dfs.StatusOK
}
