package watcher

import (
	"os"
	"path/filepath"
)

// statNoFollow reports whether p exists and is a directory.
func statNoFollow(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// walkDirs adds dir and every subdirectory it contains to dirs, since
// fsnotify watches are not recursive.
func walkDirs(dir string, dirs map[string]struct{}) {
	_ = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // root may not exist yet; skip silently
		}
		if info.IsDir() {
			dirs[p] = struct{}{}
		}
		return nil
	})
}
