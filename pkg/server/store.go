package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	"github.com/mirrorfs/mirrorfs/pkg/checksum"
)

// handleStore serves StoreFile. The caller must already hold the write lock
// for the file (granted by RequestWriteLock); the lock is released on every
// terminal path, including stream aborts.
//
// The CRC short-circuit happens before any content moves: when both sides
// agree on content the server keeps its own bytes and at most advances its
// mtime, replying AlreadyExists. Otherwise the client streams chunks into a
// staging file that is renamed into place only on a complete stream, so a
// mid-stream deadline never leaves a torn file under the canonical name.
func (s *Server) handleStore(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) (dfs.Status, bool) {
	req := &dfs.StoreFileRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed store header", nil)
		return dfs.StatusInternal, false
	}

	path, err := s.mountDir.Resolve(req.Name)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	// The lock must be held by this client. A missing or mis-owned lock is
	// a protocol violation, and the entry (if any) belongs to someone else,
	// so nothing is released here.
	if owner, held := s.locks.Owner(req.Name); !held || owner != req.ClientID {
		logger.Warn("Store without write lock", "file", req.Name, "client_id", req.ClientID)
		_ = c.reply(xid, dfs.StatusInternal, "no write lock held for "+req.Name, nil)
		return dfs.StatusInternal, false
	}
	defer s.releaseLock(req.Name)

	fileMu := s.mutexes.GetOrCreate(req.Name)

	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	fileMu.Lock()
	defer fileMu.Unlock()

	// The short-circuit applies only to an existing file: a missing file
	// also hashes to the empty sentinel, and storing an empty file over
	// nothing must still create it.
	_, statErr := s.mountDir.Stat(req.Name)
	exists := statErr == nil

	serverCRC, err := checksum.File(path)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	if exists && serverCRC == req.CRC {
		// Content identical; only the newer client mtime propagates.
		if touched := s.touchIfNewer(req.Name, req.Mtime); touched {
			s.callbacks.Signal()
		}
		logger.Debug("Store short-circuit", "file", req.Name, "crc", req.CRC)
		_ = c.reply(xid, dfs.StatusAlreadyExists, "content identical", nil)
		return dfs.StatusAlreadyExists, false
	}

	// Proceed: tell the client to start streaming.
	if err := c.reply(xid, dfs.StatusOK, "", nil); err != nil {
		return dfs.StatusInternal, true
	}

	status := s.receiveStream(ctx, c, xid, req)
	if status != dfs.StatusOK {
		return status, true
	}

	entry, err := s.mountDir.Stat(req.Name)
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal, false
	}

	s.callbacks.Signal()
	logger.Info("Store committed", "file", req.Name, "size", entry.Size, "client_id", req.ClientID)

	reply := &dfs.StoreFileReply{Info: dfs.FileInfo{
		Name:     entry.Name,
		FileSize: entry.Size,
		Mtime:    entry.Mtime,
		Ctime:    entry.Ctime,
	}}
	if err := c.reply(xid, dfs.StatusOK, "", reply); err != nil {
		return dfs.StatusInternal, true
	}
	return dfs.StatusOK, false
}

// receiveStream reads chunk frames into a staging file and commits it.
// Returns StatusOK on a committed stream; any other status has already been
// sent to the client and poisons the connection.
func (s *Server) receiveStream(ctx context.Context, c *connState, xid uint32, req *dfs.StoreFileRequest) dfs.Status {
	staging, err := s.mountDir.CreateStaging()
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	discard := func() {
		_ = staging.Close()
		_ = os.Remove(staging.Name())
	}

	var received uint64
	for {
		// Cancellation is observed between chunks; a fired deadline must
		// not leave the write lock held or a torn file visible.
		if ctx.Err() != nil {
			discard()
			logger.Warn("Store stream cancelled", "file", req.Name, "received", received)
			_ = c.reply(xid, dfs.StatusDeadlineExceeded, "deadline exceeded mid-stream", nil)
			return dfs.StatusDeadlineExceeded
		}

		data, last, err := dfs.ReadChunk(c.reader)
		if err != nil {
			discard()
			status := dfs.StatusInternal
			if isTimeout(err) {
				status = dfs.StatusDeadlineExceeded
			}
			_ = c.reply(xid, status, "stream read failed", nil)
			return status
		}

		if len(data) >= s.chunkSize {
			discard()
			_ = c.reply(xid, dfs.StatusInternal, "oversized chunk", nil)
			return dfs.StatusInternal
		}

		// Raw byte writes; content with NUL bytes must survive untouched.
		if _, err := staging.Write(data); err != nil {
			discard()
			_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
			return dfs.StatusInternal
		}
		received += uint64(len(data))

		if last {
			break
		}
	}

	if err := staging.Close(); err != nil {
		_ = os.Remove(staging.Name())
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}
	if err := s.mountDir.Commit(staging.Name(), req.Name); err != nil {
		_ = os.Remove(staging.Name())
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	// The filesystem stamped the commit with its own clock; a client clock
	// ahead of ours still must not regress the stored mtime.
	s.touchIfNewer(req.Name, req.Mtime)

	if s.metrics != nil {
		s.metrics.RecordBytesTransferred("StoreFile", "in", received)
	}

	return dfs.StatusOK
}

// touchIfNewer advances the file's mtime to clientMtime when the client's
// is newer. Reports whether a touch happened.
func (s *Server) touchIfNewer(name string, clientMtime int64) bool {
	entry, err := s.mountDir.Stat(name)
	if err != nil {
		return false
	}
	if clientMtime <= entry.Mtime {
		return false
	}
	if err := s.mountDir.Touch(name, clientMtime); err != nil {
		logger.Warn("Touch failed", "file", name, "error", err)
		return false
	}
	return true
}

// releaseLock drops the write lock and refreshes the lock gauge.
func (s *Server) releaseLock(name string) {
	s.locks.Release(name)
	if s.metrics != nil {
		s.metrics.SetLocksHeld(s.locks.Len())
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
