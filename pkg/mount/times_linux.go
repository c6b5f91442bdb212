//go:build linux

package mount

import (
	"os"
	"syscall"
	"time"
)

// ctime returns the inode change time in seconds. Falls back to mtime when
// the platform stat is unavailable.
func ctime(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Ctim.Sec)
	}
	return info.ModTime().Unix()
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
