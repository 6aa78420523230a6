// Package pidfile guards a single daemon instance per state directory using
// an advisory file lock, so a second `lockguardd agent` invocation against
// the same store fails fast instead of racing the first on the same
// snapshot directory and timer registry.
package pidfile

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// PIDFile is a held lock on a pid file. Release unlocks it and removes the
// file.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// Acquire creates (or opens) path, writes the current process id into it,
// and locks it. It fails if another live process already holds the lock.
func Acquire(path string) (*PIDFile, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile: %s is held by another process", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: write %s: %w", path, werr)
	}
	if cerr != nil {
		lock.Unlock()
		return nil, fmt.Errorf("pidfile: close %s: %w", path, cerr)
	}

	return &PIDFile{path: path, lock: lock}, nil
}

// Release unlocks and removes the pid file.
func (p *PIDFile) Release() error {
	if err := p.lock.Unlock(); err != nil {
		return err
	}
	return os.Remove(p.path)
}
