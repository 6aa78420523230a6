// Package watcher translates file-system events over a set of watched
// paths (literal and glob) into debounced, categorised change events,
// grounded on the debounce/suppression-window shape of the teacher
// lineage's serf/coalesce.go.
package watcher

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Kind mirrors the base spec's ChangeEvent.kind.
type Kind string

const (
	Created   Kind = "created"
	Modified  Kind = "modified"
	MovedFrom Kind = "moved-from"
	MovedTo   Kind = "moved-to"
)

// Handler is invoked exactly once, synchronously, for each admitted event.
type Handler func(path string, category Category, kind Kind)

// debounceWindow is the per-path suppression window.
const debounceWindow = 2 * time.Second

// Watcher groups watched paths by containing directory, installs one
// fsnotify watch per unique parent, and delivers debounced, categorised
// events to a Handler.
type Watcher struct {
	entries []entry
	handler Handler
	logger  *log.Logger

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	running   bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// entry is one configured watched path: a literal file, a directory, or a
// glob pattern, which is kept as a pattern and matched against event paths.
type entry struct {
	pattern string // original configured literal path or glob
	isGlob  bool
	isDir   bool
}

// New expands the configured groups against the live filesystem and
// prepares (but does not start) a Watcher.
func New(groups Config, handler Handler, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		handler:  handler,
		logger:   logger,
		fsw:      fsw,
		lastSeen: make(map[string]time.Time),
		done:     make(chan struct{}),
	}

	w.entries = expand(groups, logger)
	if err := w.installWatches(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Config lists literal paths and glob patterns under the named groups the
// base spec's external-interfaces section defines.
type Config struct {
	NetworkConfigs []string
	SSHConfigs     []string
	FirewallConfigs []string
	ServiceConfigs []string
	CustomPaths    []string
}

func (c Config) all() []string {
	var out []string
	out = append(out, c.NetworkConfigs...)
	out = append(out, c.SSHConfigs...)
	out = append(out, c.FirewallConfigs...)
	out = append(out, c.ServiceConfigs...)
	out = append(out, c.CustomPaths...)
	return out
}

func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// expand turns every configured literal path and glob pattern into the
// entry set the Watcher installs watches for. Glob patterns are not
// expanded into concrete paths: each is kept as one pattern entry, and a
// pattern that currently matches nothing is logged at debug. Literal paths
// are kept whether or not they exist.
func expand(groups Config, logger *log.Logger) []entry {
	var entries []entry
	for _, pattern := range groups.all() {
		if !isGlobPattern(pattern) {
			entries = append(entries, entry{pattern: pattern, isGlob: false, isDir: isDir(pattern)})
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			logger.Printf("[WARN] watcher: invalid glob pattern %q: %s", pattern, err)
			continue
		}
		if len(matches) == 0 {
			logger.Printf("[DEBUG] watcher: glob pattern %q matched nothing", pattern)
		}
		entries = append(entries, entry{pattern: pattern, isGlob: true})
	}
	return entries
}

func isDir(p string) bool {
	fi, err := statNoFollow(p)
	return err == nil && fi
}

// installWatches groups every entry by containing directory (for a glob,
// the directory in front of its first wildcard) and
// installs one recursive-equivalent watch per unique parent: fsnotify
// itself only watches a single directory level, so directory entries are
// walked and every subdirectory is added individually.
func (w *Watcher) installWatches() error {
	dirs := make(map[string]struct{})
	for _, e := range w.entries {
		switch {
		case e.isGlob:
			dirs[stripGlob(e.pattern)] = struct{}{}
		case e.isDir:
			walkDirs(e.pattern, dirs)
		default:
			dirs[filepath.Dir(e.pattern)] = struct{}{}
		}
	}

	for dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Printf("[DEBUG] watcher: failed to watch %s: %s", dir, err)
		}
	}
	return nil
}

func stripGlob(pattern string) string {
	idx := strings.IndexAny(pattern, "*?")
	if idx < 0 {
		return pattern
	}
	return filepath.Dir(pattern[:idx])
}

// Start begins processing fsnotify events on the caller's behalf; it is
// idempotent, matching the base spec's "second call while running logs a
// warning and returns" contract.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Printf("[WARN] watcher: Start called while already running")
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("[ERR] watcher: fsnotify error: %s", err)
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !w.admitted(ev.Name) {
		return
	}
	if w.debounced(ev.Name) {
		return
	}

	kind := Modified
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = Created
	case ev.Op&fsnotify.Rename != 0:
		kind = MovedFrom
	}

	w.handler(ev.Name, categorize(ev.Name), kind)
}

// admitted implements the base spec's three-way delivery filter.
func (w *Watcher) admitted(path string) bool {
	for _, e := range w.entries {
		switch {
		case e.isGlob:
			if ok, _ := doublestar.Match(toSlash(e.pattern), toSlash(path)); ok {
				return true
			}
		case e.isDir:
			if path == e.pattern || strings.HasPrefix(path, e.pattern+string(filepath.Separator)) {
				return true
			}
		default:
			if path == e.pattern {
				return true
			}
		}
	}
	return false
}

func toSlash(p string) string {
	return filepath.ToSlash(p)
}

// debounced reports whether path is within its suppression window,
// updating the window's deadline on every delivered (non-suppressed) call.
func (w *Watcher) debounced(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	last, seen := w.lastSeen[path]
	if seen && now.Sub(last) < debounceWindow {
		return true
	}
	w.lastSeen[path] = now
	return false
}

// Stop triggers orderly shutdown with a 5-second join deadline.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.fsw.Close()

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		w.logger.Printf("[WARN] watcher: shutdown did not complete within 5s")
	}
}
