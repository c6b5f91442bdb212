package server

import (
	"bytes"
	"context"
	"os"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// handleDelete serves DeleteFile. The caller must hold the write lock; the
// lock is released on every terminal path once ownership is verified.
func (s *Server) handleDelete(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) dfs.Status {
	req := &dfs.DeleteFileRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed delete request", nil)
		return dfs.StatusInternal
	}

	if _, err := s.mountDir.Resolve(req.Name); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	if owner, held := s.locks.Owner(req.Name); !held || owner != req.ClientID {
		logger.Warn("Delete without write lock", "file", req.Name, "client_id", req.ClientID)
		_ = c.reply(xid, dfs.StatusInternal, "no write lock held for "+req.Name, nil)
		return dfs.StatusInternal
	}
	defer s.releaseLock(req.Name)

	fileMu := s.mutexes.GetOrCreate(req.Name)

	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	fileMu.Lock()
	defer fileMu.Unlock()

	entry, err := s.mountDir.Stat(req.Name)
	if err != nil {
		if os.IsNotExist(err) {
			_ = c.reply(xid, dfs.StatusNotFound, "file not found: "+req.Name, nil)
			return dfs.StatusNotFound
		}
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	if err := s.mountDir.Remove(req.Name); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	s.callbacks.Signal()
	logger.Info("File deleted", "file", req.Name, "client_id", req.ClientID)

	reply := &dfs.DeleteFileReply{Info: dfs.FileInfo{
		Name:     entry.Name,
		FileSize: entry.Size,
		Mtime:    entry.Mtime,
		Ctime:    entry.Ctime,
	}}
	_ = c.reply(xid, dfs.StatusOK, "", reply)
	return dfs.StatusOK
}

// handleList serves ListFiles: a directory snapshot under the directory
// mutex. Entries whose stat races a delete come back with only the name.
func (s *Server) handleList(ctx context.Context, c *connState, xid uint32) dfs.Status {
	files, err := s.listFiles()
	if err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	_ = c.reply(xid, dfs.StatusOK, "", &dfs.FileListReply{Files: files})
	return dfs.StatusOK
}

// handleStat serves GetFileStatus. A missing file is NotFound.
func (s *Server) handleStat(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) dfs.Status {
	req := &dfs.GetFileStatusRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed stat request", nil)
		return dfs.StatusInternal
	}

	if _, err := s.mountDir.Resolve(req.Name); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	fileMu := s.mutexes.GetOrCreate(req.Name)
	fileMu.Lock()
	defer fileMu.Unlock()

	entry, err := s.mountDir.Stat(req.Name)
	if err != nil {
		if os.IsNotExist(err) {
			_ = c.reply(xid, dfs.StatusNotFound, "file not found: "+req.Name, nil)
			return dfs.StatusNotFound
		}
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}

	reply := &dfs.GetFileStatusReply{Info: dfs.FileInfo{
		Name:     entry.Name,
		FileSize: entry.Size,
		Mtime:    entry.Mtime,
		Ctime:    entry.Ctime,
	}}
	_ = c.reply(xid, dfs.StatusOK, "", reply)
	return dfs.StatusOK
}

// handleRequestWriteLock serves RequestWriteLock: at most one writer per
// file. A denied lock is reported as Internal on the wire; clients surface
// it as ResourceExhausted.
func (s *Server) handleRequestWriteLock(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) dfs.Status {
	req := &dfs.RequestWriteLockRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed lock request", nil)
		return dfs.StatusInternal
	}

	if _, err := s.mountDir.Resolve(req.Name); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, err.Error(), nil)
		return dfs.StatusInternal
	}
	if req.ClientID == "" {
		_ = c.reply(xid, dfs.StatusInternal, "empty client id", nil)
		return dfs.StatusInternal
	}

	if !s.locks.TryAcquire(req.Name, req.ClientID) {
		logger.Debug("Write lock denied", "file", req.Name, "client_id", req.ClientID)
		_ = c.reply(xid, dfs.StatusInternal, "write lock already held for "+req.Name, nil)
		return dfs.StatusInternal
	}

	// The file's mutex must exist before the mutating call that follows.
	s.mutexes.GetOrCreate(req.Name)

	if s.metrics != nil {
		s.metrics.SetLocksHeld(s.locks.Len())
	}

	logger.Debug("Write lock granted", "file", req.Name, "client_id", req.ClientID)
	_ = c.reply(xid, dfs.StatusOK, "", &dfs.RequestWriteLockReply{})
	return dfs.StatusOK
}

// handleCallbackList parks the request on the callback queue and blocks
// until the processor answers it (long poll) or the call is cancelled.
func (s *Server) handleCallbackList(ctx context.Context, c *connState, xid uint32, body *bytes.Reader) dfs.Status {
	req := &dfs.CallbackListRequest{}
	if err := dfs.DecodeRequest(body, req); err != nil {
		_ = c.reply(xid, dfs.StatusInternal, "malformed callback request", nil)
		return dfs.StatusInternal
	}

	entry := s.callbacks.Add(req.ClientID, req.Name)
	if s.metrics != nil {
		s.metrics.SetCallbacksPending(s.callbacks.Depth())
	}

	select {
	case <-ctx.Done():
		_ = c.reply(xid, dfs.StatusCancelled, "callback cancelled", nil)
		return dfs.StatusCancelled
	case files := <-entry.reply:
		_ = c.reply(xid, dfs.StatusOK, "", &dfs.FileListReply{Files: files})
		return dfs.StatusOK
	}
}
