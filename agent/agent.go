// Package agent wires the File Watcher, Timer Registry, and Revert Engine
// into one running process: it owns the lifecycle (Start/Shutdown) and
// bridges the watcher's path/category events into armed timers, and armed
// timers' expiry into revert requests.
package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lockguard/lockguard/capability"
	"github.com/lockguard/lockguard/revert"
	"github.com/lockguard/lockguard/snapshot"
	"github.com/lockguard/lockguard/timer"
	"github.com/lockguard/lockguard/watcher"
)

// Config holds the agent-level settings that aren't specific to the
// watcher, the store, or the capability map, each of which is supplied to
// New directly (mirroring the teacher's Create(agentConf, serfConf,
// logOutput) split between "what Serf needs" and "what the agent needs").
type Config struct {
	Watcher               watcher.Config
	ConnectivityCheck     bool
	ConnectivityEndpoints []string
	ConnectivityTimeout   time.Duration
	GracePeriod           time.Duration
	RequestedTimeout      map[watcher.Category]time.Duration
}

// Agent owns the watcher, the timer registry, and the revert engine, and
// fans watcher events into armed timers and expired timers into reverts.
type Agent struct {
	conf Config

	store      snapshot.Store
	capability *capability.Map
	notifier   Notifier
	logger     *log.Logger

	watcher  *watcher.Watcher
	registry *timer.Registry
	engine   *revert.Engine

	runCtx    context.Context
	runCancel context.CancelFunc

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	// pending tracks the in-flight grace-period revert for every expired
	// change id, keyed by ChangeID, so a late Confirm can still cancel the
	// Revert call that processExpired already removed from the timer
	// registry (timer.Registry.Confirm only finds entries that haven't
	// expired yet).
	pending     map[string]pendingRevert
	pendingLock sync.Mutex
}

// pendingRevert is the cancellation handle for one expired entry's
// in-flight Revert call, plus enough context to notify on a late confirm.
type pendingRevert struct {
	path   string
	cancel context.CancelFunc
}

// New constructs an Agent, wiring its engine and registry, but does not
// start the watcher or the expiry loop — call Start for that, mirroring
// the teacher's separation of Create from Start to avoid a race between
// construction and registering handlers.
func New(conf Config, store snapshot.Store, caps *capability.Map, logOutput io.Writer) (*Agent, error) {
	if logOutput == nil {
		logOutput = os.Stderr
	}
	logger := log.New(logOutput, "", log.LstdFlags)
	notifier := newLogNotifier(logger)

	a := &Agent{
		conf:       conf,
		store:      store,
		capability: caps,
		notifier:   notifier,
		logger:     logger,
		shutdownCh: make(chan struct{}),
		pending:    make(map[string]pendingRevert),
	}

	engine := revert.New(store, caps, notifier, logger)
	if conf.GracePeriod > 0 {
		engine.GracePeriod = conf.GracePeriod
	}
	if conf.ConnectivityEndpoints != nil {
		engine.ConnectivityEndpoints = conf.ConnectivityEndpoints
	}
	if conf.ConnectivityTimeout > 0 {
		engine.ConnectivityTimeout = conf.ConnectivityTimeout
	}
	engine.ConnectivityCheck = conf.ConnectivityCheck
	a.engine = engine

	a.registry = timer.New(notifier, a.onExpiry, logger)

	w, err := watcher.New(conf.Watcher, a.onFileEvent, logger)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to construct watcher: %w", err)
	}
	a.watcher = w

	return a, nil
}

// Start begins watching configured paths and running the expiry loop.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Printf("[INFO] agent: lockguardd agent starting")
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.watcher.Start(a.runCtx)
	go a.registry.Run(a.runCtx)
	return nil
}

// Shutdown stops the watcher and the expiry loop. Armed timers are left in
// place in memory only; nothing is persisted across a shutdown, so
// outstanding timer entries are lost.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}

	if a.runCancel != nil {
		a.runCancel()
	}
	a.watcher.Stop()
	a.registry.Stop()

	a.logger.Printf("[INFO] agent: shutdown complete")
	a.shutdown = true
	close(a.shutdownCh)
	return nil
}

// ShutdownCh returns a channel that is closed once Shutdown completes.
func (a *Agent) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// Confirm acknowledges an in-flight change by its ChangeId. Before expiry
// this cancels the armed timer via the registry; during the grace period
// that follows expiry (the entry is already gone from the registry, handed
// off to onExpiry) this instead cancels that change id's in-flight Revert
// call, honouring a late confirm exactly as SPEC_FULL.md's grace period
// describes.
func (a *Agent) Confirm(changeID string) bool {
	a.pendingLock.Lock()
	p, ok := a.pending[changeID]
	if ok {
		delete(a.pending, changeID)
	}
	a.pendingLock.Unlock()

	if ok {
		p.cancel()
		a.notifier.Notify("confirmed", p.path, "Configuration change confirmed during grace period: "+p.path)
		return true
	}

	return a.registry.Confirm(changeID)
}

// List returns every currently armed timer entry.
func (a *Agent) List() []timer.Entry {
	return a.registry.List()
}

// Registry exposes the underlying Timer Registry, e.g. for the CLI's
// status command.
func (a *Agent) Registry() *timer.Registry {
	return a.registry
}

// onFileEvent is the watcher.Handler: it snapshots current state and arms
// a timer for the changed path.
func (a *Agent) onFileEvent(path string, category watcher.Category, kind watcher.Kind) {
	ctx := context.Background()
	if a.runCtx != nil {
		ctx = a.runCtx
	}

	var ref *timer.SnapshotRef
	id, err := a.store.Create(ctx, fmt.Sprintf("pre-change snapshot: %s", path))
	if err != nil {
		a.logger.Printf("[WARN] agent: pre-change snapshot failed for %s, will fall back to the default revert template: %s", path, err)
	} else {
		ref = &timer.SnapshotRef{Kind: int(id.Kind), Value: id.Value}
	}

	changeID := timer.NewChangeID(category, time.Now())
	requested := a.conf.RequestedTimeout[category]
	a.registry.Arm(changeID, path, category, ref, kind, requested)
}

// onExpiry is the timer.ExpiryHandler: it converts the expired entry into
// a revert.Request and hands it to the Revert Engine. It runs without the
// registry lock held.
//
// A per-entry cancellable context is derived from ctx and registered in
// a.pending under the entry's ChangeID for the duration of the call, so
// Confirm can still reach this specific Revert call during its grace
// period even though processExpired has already removed the entry from
// the timer registry.
func (a *Agent) onExpiry(ctx context.Context, entry timer.Entry) {
	revertCtx, cancel := context.WithCancel(ctx)

	a.pendingLock.Lock()
	a.pending[entry.ChangeID] = pendingRevert{path: entry.Path, cancel: cancel}
	a.pendingLock.Unlock()

	defer func() {
		a.pendingLock.Lock()
		delete(a.pending, entry.ChangeID)
		a.pendingLock.Unlock()
		cancel()
	}()

	var snapID *snapshot.ID
	if entry.SnapshotID != nil {
		snapID = &snapshot.ID{Kind: snapshot.Kind(entry.SnapshotID.Kind), Value: entry.SnapshotID.Value}
	}

	err := a.engine.Revert(revertCtx, revert.Request{
		Path:       entry.Path,
		Category:   revert.Category(entry.Category),
		SnapshotID: snapID,
	})
	if err != nil {
		a.logger.Printf("[ERR] agent: revert failed for %s: %s", entry.Path, err)
	}
}
