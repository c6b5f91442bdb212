package client

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	promMetrics "github.com/mirrorfs/mirrorfs/pkg/metrics/prometheus"
	"github.com/mirrorfs/mirrorfs/pkg/server"
)

// testEnv is one running server plus helpers to build clients against it.
type testEnv struct {
	srv       *server.Server
	addr      string
	serverDir string
	metrics   *promMetrics.DFSMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	serverDir := t.TempDir()
	m := promMetrics.New()

	srv, err := server.New(server.Config{
		Listen:           "127.0.0.1:0",
		MountPath:        serverDir,
		CallbackInterval: 50 * time.Millisecond,
		ShutdownTimeout:  time.Second,
		Metrics:          m,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Stop()
		<-done
	})

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)

	return &testEnv{srv: srv, addr: srv.Addr(), serverDir: serverDir, metrics: m}
}

func (e *testEnv) newClient(t *testing.T) *Client {
	t.Helper()

	c, err := New(Config{
		Server:    e.addr,
		MountPath: t.TempDir(),
		Deadline:  5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func (e *testEnv) serverFile(t *testing.T, name string, content []byte, mtime int64) {
	t.Helper()
	path := filepath.Join(e.serverDir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	ts := time.Unix(mtime, 0)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func localFile(t *testing.T, c *Client, name string, content []byte, mtime int64) {
	t.Helper()
	path := filepath.Join(c.MountPath(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	ts := time.Unix(mtime, 0)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func localMtime(t *testing.T, c *Client, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(c.MountPath(), name))
	require.NoError(t, err)
	return info.ModTime().Unix()
}

func serverMtime(t *testing.T, e *testEnv, name string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(e.serverDir, name))
	require.NoError(t, err)
	return info.ModTime().Unix()
}

// bytesStreamed sums the content-byte counters across both directions.
func bytesStreamed(t *testing.T, e *testEnv) float64 {
	t.Helper()
	families, err := e.metrics.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "mirrorfs_bytes_transferred_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestStoreFetchRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	content := bytes.Repeat([]byte{0x00, 0x7F, 0xFF}, 10_000) // binary, with NULs
	localFile(t, c, "blob.bin", content, 1000)

	info, err := c.Store("blob.bin")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), info.FileSize)

	got, err := os.ReadFile(filepath.Join(env.serverDir, "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// A second client pulls the same bytes back.
	c2 := env.newClient(t)
	require.NoError(t, c2.Fetch("blob.bin"))
	got, err = os.ReadFile(filepath.Join(c2.MountPath(), "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Lock table is empty once the store completed.
	assert.Empty(t, env.srv.Locks())
}

func TestEmptyFileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	localFile(t, c, "empty", nil, 1000)

	info, err := c.Store("empty")
	require.NoError(t, err)
	assert.Zero(t, info.FileSize)

	// Fetch against a missing local file short-circuits (both sides hash
	// to the empty sentinel) and materializes the empty file locally.
	c2 := env.newClient(t)
	err = c2.Fetch("empty")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusAlreadyExists, dfs.StatusOf(err))

	got, err := os.ReadFile(filepath.Join(c2.MountPath(), "empty"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChunkBoundaryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	// Exact multiple of the chunk payload (ChunkSize-1).
	content := bytes.Repeat([]byte{0xA5}, (dfs.DefaultChunkSize-1)*2)
	localFile(t, c, "aligned.bin", content, 1000)

	_, err := c.Store("aligned.bin")
	require.NoError(t, err)

	c2 := env.newClient(t)
	require.NoError(t, c2.Fetch("aligned.bin"))

	got, err := os.ReadFile(filepath.Join(c2.MountPath(), "aligned.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestStoreMissingLocalFile(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	_, err := c.Store("ghost.txt")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusNotFound, dfs.StatusOf(err))
	assert.Empty(t, env.srv.Locks(), "no lock may be taken for a missing local file")
}

func TestFetchMissingServerFile(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	err := c.Fetch("ghost.txt")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusNotFound, dfs.StatusOf(err))
}

func TestDeleteThenStatNotFound(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	localFile(t, c, "doomed.txt", []byte("bye"), 1000)
	_, err := c.Store("doomed.txt")
	require.NoError(t, err)

	info, err := c.Delete("doomed.txt")
	require.NoError(t, err)
	assert.Equal(t, "doomed.txt", info.Name)

	_, err = c.Stat("doomed.txt")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusNotFound, dfs.StatusOf(err))
	assert.Empty(t, env.srv.Locks())
}

// S1: identical content, server mtime newer. Fetch short-circuits without
// touching either side; the reconciler then adopts the server mtime.
func TestFetchShortCircuitThenReconcileTouch(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	env.serverFile(t, "a.txt", []byte("hello"), 100)
	localFile(t, c, "a.txt", []byte("hello"), 50)

	err := c.Fetch("a.txt")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusAlreadyExists, dfs.StatusOf(err))
	assert.Equal(t, int64(50), localMtime(t, c, "a.txt"), "fetch alone must not touch")
	assert.Equal(t, int64(100), serverMtime(t, env, "a.txt"))

	files, err := c.List()
	require.NoError(t, err)
	c.Reconcile(files)

	assert.Equal(t, int64(100), localMtime(t, c, "a.txt"))
}

// S2: two clients race for the lock; exactly one wins, the loser surfaces
// ResourceExhausted from Store, and the table drains after the commit.
func TestStoreCollision(t *testing.T) {
	env := newTestEnv(t)
	c1 := env.newClient(t)
	c2 := env.newClient(t)

	localFile(t, c1, "b", []byte("x"), 1000)
	localFile(t, c2, "b", []byte("y"), 1000)

	require.NoError(t, c1.RequestWriteLock("b"))

	err := c2.RequestWriteLock("b")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusInternal, dfs.StatusOf(err), "lock denial is Internal on the wire")

	_, err = c2.Store("b")
	require.Error(t, err)
	assert.Equal(t, dfs.StatusResourceExhausted, dfs.StatusOf(err))

	_, err = c1.Store("b")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(env.serverDir, "b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
	assert.Empty(t, env.srv.Locks())
}

// S4: a file that exists only on the server is pulled by the reconciler.
func TestReconcilePullsNewFile(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	env.serverFile(t, "c.dat", []byte("payload"), 200)

	require.NoError(t, c.SyncOnce())

	got, err := os.ReadFile(filepath.Join(c.MountPath(), "c.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

// S5: diverged content with a newer local mtime is pushed.
func TestReconcilePushesNewerLocal(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	env.serverFile(t, "d.bin", []byte("server version"), 200)
	localFile(t, c, "d.bin", []byte("local version"), 300)

	require.NoError(t, c.SyncOnce())

	got, err := os.ReadFile(filepath.Join(env.serverDir, "d.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("local version"), got)
	assert.GreaterOrEqual(t, serverMtime(t, env, "d.bin"), int64(300))
	assert.Empty(t, env.srv.Locks())
}

// S6: identical content, newer local mtime. The store short-circuits into a
// server-side touch and no content bytes move.
func TestReconcileTouchOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	env.serverFile(t, "e.log", []byte("same"), 100)
	localFile(t, c, "e.log", []byte("same"), 400)

	before := bytesStreamed(t, env)
	require.NoError(t, c.SyncOnce())

	assert.Equal(t, int64(400), serverMtime(t, env, "e.log"))
	assert.Equal(t, before, bytesStreamed(t, env), "no content bytes may be transferred")
	assert.Empty(t, env.srv.Locks())
}

// Reconciler idempotence: a second pass over an unchanged directory does no
// transfer work.
func TestReconcileIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	env.serverFile(t, "one.txt", []byte("1"), 100)
	localFile(t, c, "two.txt", []byte("22"), 200)
	_, err := c.Store("two.txt")
	require.NoError(t, err)

	require.NoError(t, c.SyncOnce())

	before := bytesStreamed(t, env)
	require.NoError(t, c.SyncOnce())
	assert.Equal(t, before, bytesStreamed(t, env))
}

func TestCallbackLoopReconciles(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.RunCallbackLoop(ctx)

	// A file appearing on the server reaches the client via the long poll.
	env.serverFile(t, "pushed.txt", []byte("from server"), 500)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(c.MountPath(), "pushed.txt"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(c.MountPath(), "pushed.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from server"), got)
}

func TestWatcherPushesLocalChange(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.RunWatcher(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the watch register

	// The watcher only reacts to files the server already lists; seed the
	// server with an older version so the event triggers a push.
	env.serverFile(t, "w.txt", []byte("old"), 100)
	localFile(t, c, "w.txt", []byte("new content"), 900)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(env.serverDir, "w.txt"))
		return err == nil && bytes.Equal(data, []byte("new content"))
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClientIDGenerated(t *testing.T) {
	env := newTestEnv(t)

	c1 := env.newClient(t)
	c2 := env.newClient(t)
	assert.NotEmpty(t, c1.ClientID())
	assert.NotEqual(t, c1.ClientID(), c2.ClientID())
}
