// Package dfs defines the MirrorFS wire protocol: procedure numbers, call
// and reply messages, status codes, and the record-marked framing both peers
// speak over TCP.
//
// Every message body is XDR-encoded (RFC 4506). A call is a single frame
// holding CallHeader followed by the procedure's request struct; a reply is
// a single frame holding ReplyHeader followed by the reply struct. File
// content travels as a run of raw chunk frames terminated by one with the
// LAST bit set in its record mark (see framing.go).
package dfs

// Procedure numbers.
const (
	ProcStoreFile uint32 = iota + 1
	ProcFetchFile
	ProcDeleteFile
	ProcListFiles
	ProcGetFileStatus
	ProcRequestWriteLock
	ProcCallbackList
)

// ProcName maps a procedure number to its verb, for logs and metrics.
func ProcName(proc uint32) string {
	switch proc {
	case ProcStoreFile:
		return "StoreFile"
	case ProcFetchFile:
		return "FetchFile"
	case ProcDeleteFile:
		return "DeleteFile"
	case ProcListFiles:
		return "ListFiles"
	case ProcGetFileStatus:
		return "GetFileStatus"
	case ProcRequestWriteLock:
		return "RequestWriteLock"
	case ProcCallbackList:
		return "CallbackList"
	default:
		return "UNKNOWN"
	}
}

// Chunk sizing. A single chunk frame carries at most ChunkSize-1 bytes of
// file content, mirroring a read buffer that reserves one byte.
const (
	DefaultChunkSize = 4096
	MinChunkSize     = 512
)

// CallHeader prefixes every request body.
//
// DeadlineUnixMilli is the caller's absolute deadline (wall clock,
// milliseconds since the epoch); zero means no deadline. The server derives
// a context deadline from it and checks cancellation at every chunk
// boundary.
type CallHeader struct {
	XID               uint32
	Proc              uint32
	DeadlineUnixMilli int64
}

// ReplyHeader prefixes every reply body. Message is empty on success and
// carries the human-readable failure description otherwise.
type ReplyHeader struct {
	XID     uint32
	Status  uint32
	Message string
}

// FileInfo is the metadata record returned for a single file. The CRC is
// deliberately absent: it travels only in store/fetch request payloads.
type FileInfo struct {
	Name     string
	FileSize uint64
	Mtime    int64
	Ctime    int64
}

// StoreFileRequest is the streamed-store header. The server validates the
// write lock against ClientID and short-circuits on CRC equality before any
// chunk is transferred.
type StoreFileRequest struct {
	Name     string
	ClientID string
	Mtime    int64
	CRC      uint32
}

// StoreFileReply carries the committed file's metadata.
type StoreFileReply struct {
	Info FileInfo
}

// FetchFileRequest asks the server for a file's content. Mtime and CRC
// describe the client's current copy (zero mtime and the empty-stream CRC
// when the file is missing locally) and drive the short-circuit.
type FetchFileRequest struct {
	Name     string
	ClientID string
	Mtime    int64
	CRC      uint32
}

// DeleteFileRequest removes a file. The caller must hold the write lock.
type DeleteFileRequest struct {
	Name     string
	ClientID string
}

// DeleteFileReply returns the deleted file's prior metadata.
type DeleteFileReply struct {
	Info FileInfo
}

// ListFilesRequest enumerates the server mount directory. No fields; the
// struct exists so every procedure has a typed request.
type ListFilesRequest struct{}

// FileListReply is the reply to ListFiles and CallbackList.
type FileListReply struct {
	Files []FileInfo
}

// GetFileStatusRequest stats a single file.
type GetFileStatusRequest struct {
	Name string
}

// GetFileStatusReply carries the file's metadata.
type GetFileStatusReply struct {
	Info FileInfo
}

// RequestWriteLockRequest acquires the per-file write lock for ClientID.
type RequestWriteLockRequest struct {
	Name     string
	ClientID string
}

// RequestWriteLockReply is empty; the status code is the answer.
type RequestWriteLockReply struct{}

// CallbackListRequest registers a long-poll listing request. Name is an
// optional filter prefix; empty means all files.
type CallbackListRequest struct {
	Name     string
	ClientID string
}
