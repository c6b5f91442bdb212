package server

import (
	"context"
	"strings"
	"time"

	"github.com/mirrorfs/mirrorfs/internal/logger"
	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
)

// pendingCallback is one parked CallbackList request. The handler thread
// blocks on reply until the processor fires the entry.
type pendingCallback struct {
	clientID string
	filter   string
	reply    chan []dfs.FileInfo
}

// callbackQueue holds CallbackList requests until the processor answers
// them. Producers (RPC handlers) enqueue onto a buffered channel; the single
// processor goroutine drains when a committed mutation signals it or when
// the periodic tick fires, so the queue never busy-waits.
//
// Each client keeps at most one callback in flight; the reply reflects the
// directory at some point at or after the call arrived. No stronger
// ordering is guaranteed.
type callbackQueue struct {
	signal  chan struct{}
	pending chan *pendingCallback
}

func newCallbackQueue() *callbackQueue {
	return &callbackQueue{
		signal: make(chan struct{}, 1),
		// Bounded only as a backstop; one entry per connected client.
		pending: make(chan *pendingCallback, 1024),
	}
}

// Add parks a request and returns the channel its reply will arrive on.
func (q *callbackQueue) Add(clientID, filter string) *pendingCallback {
	entry := &pendingCallback{
		clientID: clientID,
		filter:   filter,
		reply:    make(chan []dfs.FileInfo, 1),
	}
	q.pending <- entry
	return entry
}

// Signal wakes the processor after a committed mutation. Non-blocking; a
// pending signal already covers any number of mutations.
func (q *callbackQueue) Signal() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Depth returns the approximate queue depth, for metrics.
func (q *callbackQueue) Depth() int {
	return len(q.pending)
}

// processCallbacks is the processor loop: it drains the queue whenever a
// mutation signals it or the tick elapses, answering every parked request
// with a fresh listing. Runs until ctx is cancelled.
func (s *Server) processCallbacks(ctx context.Context) {
	ticker := time.NewTicker(s.callbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.callbacks.signal:
		case <-ticker.C:
		}
		s.drainCallbacks()
	}
}

// drainCallbacks answers everything currently parked. The listing is taken
// once, under the directory mutex, and shared by every reply of this round.
func (s *Server) drainCallbacks() {
	var parked []*pendingCallback
	for {
		select {
		case entry := <-s.callbacks.pending:
			parked = append(parked, entry)
			continue
		default:
		}
		break
	}
	if len(parked) == 0 {
		return
	}

	files, err := s.listFiles()
	if err != nil {
		logger.Error("Callback listing failed", "error", err)
		// Answer with an empty listing rather than wedging the clients; the
		// next round retries.
		files = nil
	}

	for _, entry := range parked {
		entry.reply <- filterFiles(files, entry.filter)
	}

	if s.metrics != nil {
		s.metrics.SetCallbacksPending(s.callbacks.Depth())
	}

	logger.Debug("Callback round complete", "replies", len(parked), "files", len(files))
}

// filterFiles applies a CallbackList name-prefix filter. An empty filter
// passes everything.
func filterFiles(files []dfs.FileInfo, filter string) []dfs.FileInfo {
	if filter == "" {
		return files
	}
	out := make([]dfs.FileInfo, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name, filter) {
			out = append(out, f)
		}
	}
	return out
}
