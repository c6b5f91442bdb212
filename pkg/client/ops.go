package client

import (
	"context"
	"io"
	"os"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	"github.com/mirrorfs/mirrorfs/pkg/checksum"
)

// RequestWriteLock acquires the server-side write lock for name. The
// server answers a held lock with Internal; callers that are about to
// mutate translate that to ResourceExhausted via requestWriteAccess.
func (c *Client) RequestWriteLock(name string) error {
	req := &dfs.RequestWriteLockRequest{Name: name, ClientID: c.clientID}
	if err := c.unary(dfs.ProcRequestWriteLock, req, nil); err != nil {
		logger.Debug("Write lock refused", "file", name, "error", err)
		return err
	}
	logger.Debug("Write lock acquired", "file", name)
	return nil
}

// requestWriteAccess wraps RequestWriteLock with the client-side error
// contract: a denied lock is ResourceExhausted; deadline expiry passes
// through.
func (c *Client) requestWriteAccess(name string) error {
	err := c.RequestWriteLock(name)
	if err == nil {
		return nil
	}
	if dfs.StatusOf(err) == dfs.StatusDeadlineExceeded {
		return err
	}
	return dfs.Errf(dfs.StatusResourceExhausted, "write lock not obtainable for %s", name)
}

// Store pushes the local file to the server.
//
// Outcomes: nil with the stored metadata (committed); AlreadyExists
// (identical content, possibly mtime-advanced on the server); NotFound
// (local file missing); ResourceExhausted (lock denied); DeadlineExceeded;
// Cancelled.
func (c *Client) Store(name string) (*dfs.FileInfo, error) {
	path, err := c.mountDir.Resolve(name)
	if err != nil {
		return nil, dfs.Errf(dfs.StatusInternal, "%v", err)
	}

	entry, err := c.mountDir.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfs.Errf(dfs.StatusNotFound, "local file missing: %s", name)
		}
		return nil, dfs.Errf(dfs.StatusInternal, "%v", err)
	}

	crc, err := checksum.File(path)
	if err != nil {
		return nil, dfs.Errf(dfs.StatusInternal, "%v", err)
	}

	if err := c.requestWriteAccess(name); err != nil {
		return nil, err
	}

	cl, header, err := c.dial(true)
	if err != nil {
		return nil, err
	}
	defer cl.close()

	header.Proc = dfs.ProcStoreFile
	req := &dfs.StoreFileRequest{
		Name:     name,
		ClientID: c.clientID,
		Mtime:    entry.Mtime,
		CRC:      crc,
	}
	if err := dfs.WriteCall(cl.conn, header, req); err != nil {
		return nil, mapTransportErr(err)
	}

	// Interim reply: OK means stream, anything else is terminal (the
	// server has already released the lock).
	if _, err := dfs.ReadReply(cl.conn, nil); err != nil {
		return nil, mapReplyErr(err)
	}

	if err := c.sendFile(cl, path, entry.Size); err != nil {
		return nil, err
	}

	reply := &dfs.StoreFileReply{}
	if _, err := dfs.ReadReply(cl.conn, reply); err != nil {
		return nil, mapReplyErr(err)
	}

	logger.Info("Store complete", "file", name, "size", reply.Info.FileSize)
	return &reply.Info, nil
}

// sendFile streams the local file in chunks of ChunkSize-1 bytes, deriving
// the chunk run from the stat size so an exact-multiple file ends on a full
// LAST chunk.
func (c *Client) sendFile(cl *call, path string, size uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}
	defer func() { _ = f.Close() }()

	buf := c.chunks.Get()
	defer c.chunks.Put(buf)

	if size == 0 {
		if err := dfs.WriteChunk(cl.conn, nil, true); err != nil {
			return mapTransportErr(err)
		}
		return nil
	}

	remaining := size
	for remaining > 0 {
		n := uint64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return dfs.Errf(dfs.StatusInternal, "read %s: %v", path, err)
		}
		remaining -= n

		if err := dfs.WriteChunk(cl.conn, buf[:n], remaining == 0); err != nil {
			return mapTransportErr(err)
		}
	}
	return nil
}

// Fetch pulls the server's copy of name into the mount directory.
//
// Outcomes: nil (content replaced); AlreadyExists (local copy already
// matches; nothing written, except that a missing local file is created
// empty when the server's copy is empty); NotFound (no such file on the server);
// DeadlineExceeded; Cancelled. The incoming stream lands in a staging file
// renamed into place only when the final status is OK.
func (c *Client) Fetch(name string) error {
	if _, err := c.mountDir.Resolve(name); err != nil {
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}

	// Describe the local copy; a missing file sends mtime 0 and the
	// empty-stream checksum.
	var localMtime int64
	localMissing := true
	if entry, err := c.mountDir.Stat(name); err == nil {
		localMtime = entry.Mtime
		localMissing = false
	}

	path, _ := c.mountDir.Resolve(name)
	crc, err := checksum.File(path)
	if err != nil {
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}

	cl, header, err := c.dial(true)
	if err != nil {
		return err
	}
	defer cl.close()

	header.Proc = dfs.ProcFetchFile
	req := &dfs.FetchFileRequest{
		Name:     name,
		ClientID: c.clientID,
		Mtime:    localMtime,
		CRC:      crc,
	}
	if err := dfs.WriteCall(cl.conn, header, req); err != nil {
		return mapTransportErr(err)
	}

	if _, err := dfs.ReadReply(cl.conn, nil); err != nil {
		mapped := mapReplyErr(err)
		// AlreadyExists against a missing local file means the server's
		// copy is empty (both sides hash to the empty sentinel); the
		// mirror of "nothing to transfer" is an empty local file.
		if localMissing && dfs.StatusOf(mapped) == dfs.StatusAlreadyExists {
			if werr := os.WriteFile(path, nil, 0644); werr != nil {
				return dfs.Errf(dfs.StatusInternal, "%v", werr)
			}
		}
		return mapped
	}

	if err := c.receiveFile(cl, name); err != nil {
		return err
	}

	logger.Info("Fetch complete", "file", name)
	return nil
}

// receiveFile drains the chunk stream into a staging file and commits it
// when the trailing status is OK.
func (c *Client) receiveFile(cl *call, name string) error {
	staging, err := c.mountDir.CreateStaging()
	if err != nil {
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}
	discard := func() {
		_ = staging.Close()
		_ = os.Remove(staging.Name())
	}

	for {
		data, last, err := dfs.ReadChunk(cl.conn)
		if err != nil {
			discard()
			return mapTransportErr(err)
		}
		if _, err := staging.Write(data); err != nil {
			discard()
			return dfs.Errf(dfs.StatusInternal, "%v", err)
		}
		if last {
			break
		}
	}

	// The trailing reply decides whether the stream was complete.
	if _, err := dfs.ReadReply(cl.conn, nil); err != nil {
		discard()
		return mapReplyErr(err)
	}

	if err := staging.Close(); err != nil {
		_ = os.Remove(staging.Name())
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}
	if err := c.mountDir.Commit(staging.Name(), name); err != nil {
		_ = os.Remove(staging.Name())
		return dfs.Errf(dfs.StatusInternal, "%v", err)
	}
	return nil
}

// Delete removes name on the server. Requires the write lock; returns the
// deleted file's prior metadata.
func (c *Client) Delete(name string) (*dfs.FileInfo, error) {
	if err := c.requestWriteAccess(name); err != nil {
		return nil, err
	}

	reply := &dfs.DeleteFileReply{}
	req := &dfs.DeleteFileRequest{Name: name, ClientID: c.clientID}
	if err := c.unary(dfs.ProcDeleteFile, req, reply); err != nil {
		return nil, err
	}

	logger.Info("Delete complete", "file", name)
	return &reply.Info, nil
}

// List returns the server's directory snapshot.
func (c *Client) List() ([]dfs.FileInfo, error) {
	reply := &dfs.FileListReply{}
	if err := c.unary(dfs.ProcListFiles, &dfs.ListFilesRequest{}, reply); err != nil {
		return nil, err
	}
	return reply.Files, nil
}

// Stat returns the server's metadata for one file.
func (c *Client) Stat(name string) (*dfs.FileInfo, error) {
	reply := &dfs.GetFileStatusReply{}
	req := &dfs.GetFileStatusRequest{Name: name}
	if err := c.unary(dfs.ProcGetFileStatus, req, reply); err != nil {
		return nil, err
	}
	return &reply.Info, nil
}

// CallbackList registers a long-poll listing request and blocks until the
// server's callback processor answers it or ctx is cancelled. Unlike every
// other verb it carries no deadline.
func (c *Client) CallbackList(ctx context.Context, filter string) ([]dfs.FileInfo, error) {
	cl, header, err := c.dial(false)
	if err != nil {
		return nil, err
	}
	defer cl.close()

	stop := longPollCtx(ctx, cl.conn)
	defer stop()

	header.Proc = dfs.ProcCallbackList
	req := &dfs.CallbackListRequest{Name: filter, ClientID: c.clientID}
	if err := dfs.WriteCall(cl.conn, header, req); err != nil {
		return nil, mapTransportErr(err)
	}

	reply := &dfs.FileListReply{}
	if _, err := dfs.ReadReply(cl.conn, reply); err != nil {
		if ctx.Err() != nil {
			return nil, dfs.Errf(dfs.StatusCancelled, "callback cancelled")
		}
		return nil, mapReplyErr(err)
	}
	return reply.Files, nil
}
