// Package mount manages a peer's mount directory: the single flat directory
// of regular files a server or client considers under management.
//
// It owns path resolution (filenames are opaque keys and must never escape
// the directory), metadata snapshots, timestamp touches, and the staging
// files streaming writes land in before being renamed into place.
package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StagingPrefix marks in-flight streaming writes. Staging files are
// invisible to List, the watcher, and the reconciler, and are renamed onto
// their canonical name only on a fully committed stream.
const StagingPrefix = ".mirrorfs-tmp-"

// Entry is the metadata snapshot of one file in the mount directory.
// A best-effort listing may populate only Name when a stat races with a
// concurrent delete.
type Entry struct {
	Name  string
	Size  uint64
	Mtime int64
	Ctime int64
}

// Dir is a validated mount directory.
type Dir struct {
	path string
}

// New validates that path exists and is a directory, and returns it
// absolute.
func New(path string) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve mount path %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat mount path %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mount path %q is not a directory", abs)
	}

	return &Dir{path: abs}, nil
}

// Path returns the absolute mount directory path.
func (d *Dir) Path() string {
	return d.path
}

// Resolve joins a filename to the mount path. Filenames are opaque keys:
// anything that could traverse out of the directory is rejected.
func (d *Dir) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty filename")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("filename %q contains a path separator", name)
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("filename %q is not a file", name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("filename contains a NUL byte")
	}
	return filepath.Join(d.path, name), nil
}

// IsStaging reports whether name is an in-flight staging file.
func IsStaging(name string) bool {
	return strings.HasPrefix(name, StagingPrefix)
}

// CreateStaging creates a fresh staging file in the mount directory.
// Staging in the same directory keeps the final rename atomic on every
// filesystem that matters.
func (d *Dir) CreateStaging() (*os.File, error) {
	f, err := os.CreateTemp(d.path, StagingPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return f, nil
}

// Commit renames a staging file onto its canonical name.
func (d *Dir) Commit(stagingPath, name string) error {
	target, err := d.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Rename(stagingPath, target); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// Stat returns the metadata of a single file. os.IsNotExist-style errors
// pass through for the caller to classify.
func (d *Dir) Stat(name string) (Entry, error) {
	path, err := d.Resolve(name)
	if err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}

	return entryFromInfo(name, info), nil
}

// List snapshots the mount directory: every regular file, staging files
// excluded. Entries whose stat fails mid-walk are returned with only Name
// populated.
func (d *Dir) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read mount directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || IsStaging(de.Name()) {
			continue
		}

		info, err := de.Info()
		if err != nil {
			entries = append(entries, Entry{Name: de.Name()})
			continue
		}
		entries = append(entries, entryFromInfo(de.Name(), info))
	}
	return entries, nil
}

// Touch advances a file's modification time to mtime (seconds).
func (d *Dir) Touch(name string, mtime int64) error {
	path, err := d.Resolve(name)
	if err != nil {
		return err
	}
	t := unixTime(mtime)
	if err := os.Chtimes(path, t, t); err != nil {
		return fmt.Errorf("touch %s: %w", name, err)
	}
	return nil
}

// Remove deletes a file from the mount directory.
func (d *Dir) Remove(name string) error {
	path, err := d.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	return nil
}

func entryFromInfo(name string, info os.FileInfo) Entry {
	return Entry{
		Name:  name,
		Size:  uint64(info.Size()),
		Mtime: info.ModTime().Unix(),
		Ctime: ctime(info),
	}
}
