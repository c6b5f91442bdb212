//go:build !linux && !windows

package mount

import (
	"os"
	"time"
)

// ctime falls back to mtime where the change time is not portably
// reachable through os.FileInfo.
func ctime(info os.FileInfo) int64 {
	return info.ModTime().Unix()
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
