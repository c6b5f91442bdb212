package mount

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDir(t *testing.T) *Dir {
	t.Helper()
	d, err := New(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestNewRejectsMissingAndNonDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = New(file)
	assert.Error(t, err)
}

func TestResolveRejectsTraversal(t *testing.T) {
	d := newDir(t)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../etc", "x\x00y"} {
		_, err := d.Resolve(name)
		assert.Error(t, err, "name %q must be rejected", name)
	}

	path, err := d.Resolve("plain.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Path(), "plain.txt"), path)
}

func TestListSkipsStagingAndNonRegular(t *testing.T) {
	d := newDir(t)

	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), StagingPrefix+"123"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(d.Path(), "subdir"), 0755))

	entries, err := d.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, uint64(1), entries[0].Size)
	assert.NotZero(t, entries[0].Mtime)
}

func TestStagingCommit(t *testing.T) {
	d := newDir(t)

	f, err := d.CreateStaging()
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, IsStaging(filepath.Base(f.Name())))
	require.NoError(t, d.Commit(f.Name(), "final.bin"))

	data, err := os.ReadFile(filepath.Join(d.Path(), "final.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestTouch(t *testing.T) {
	d := newDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "t.txt"), []byte("t"), 0644))

	want := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, d.Touch("t.txt", want))

	entry, err := d.Stat("t.txt")
	require.NoError(t, err)
	assert.Equal(t, want, entry.Mtime)
}

func TestStatMissing(t *testing.T) {
	d := newDir(t)
	_, err := d.Stat("missing.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	d := newDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "r.txt"), []byte("r"), 0644))

	require.NoError(t, d.Remove("r.txt"))
	_, err := d.Stat("r.txt")
	assert.True(t, os.IsNotExist(err))
}
