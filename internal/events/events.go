// Package events is the typed observer interface standing in for the
// reduced event/plugin bus named in the engine's scope: a fixed set of
// lifecycle hooks, each individually optional, replacing pygetex's
// PluginMeta reflection-based getattr(plugin, funcname) dispatch (design
// note d). Grounded on the teacher's internal/engine/events/events.go typed
// message structs, generalized from bubbletea messages into plain method
// calls.
package events

import (
	"context"
	"sync"

	"github.com/synodriver/pygetex/internal/task"
)

// Observer is the full set of lifecycle hooks a caller can react to.
// Embedding BaseObserver satisfies the interface while implementing none of
// them, so an observer only needs to override what it cares about.
type Observer interface {
	OnStartup(ctx context.Context)
	OnShutdown(ctx context.Context)
	OnAddURI(ctx context.Context, uri string) (skip bool)
	OnDownloadStart(ctx context.Context, t *task.Task)
	OnDownloadPause(ctx context.Context, t *task.Task)
	OnDownloadStop(ctx context.Context, t *task.Task)
	OnDownloadComplete(ctx context.Context, t *task.Task)
	OnDownloadError(ctx context.Context, t *task.Task, err error)
}

// BaseObserver is a no-op Observer; embed it and override only the hooks
// you need.
type BaseObserver struct{}

func (BaseObserver) OnStartup(ctx context.Context)                       {}
func (BaseObserver) OnShutdown(ctx context.Context)                      {}
func (BaseObserver) OnAddURI(ctx context.Context, uri string) bool       { return false }
func (BaseObserver) OnDownloadStart(ctx context.Context, t *task.Task)   {}
func (BaseObserver) OnDownloadPause(ctx context.Context, t *task.Task)   {}
func (BaseObserver) OnDownloadStop(ctx context.Context, t *task.Task)    {}
func (BaseObserver) OnDownloadComplete(ctx context.Context, t *task.Task) {}
func (BaseObserver) OnDownloadError(ctx context.Context, t *task.Task, err error) {}

// Dispatcher fans events out to every registered Observer. OnAddURI is
// gathered synchronously (a caller can veto an add); every other hook is
// fired-and-forgotten on its own goroutine, tracked by a WaitGroup so
// Shutdown can drain pending dispatches, mirroring pygetex's
// dispatch/dispatch_nowait split.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	wg        sync.WaitGroup
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds an observer. Order of registration is the order observers
// are consulted in OnAddURI.
func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) snapshot() []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Observer, len(d.observers))
	copy(out, d.observers)
	return out
}

// DispatchAddURI runs OnAddURI across every observer in registration order;
// any observer returning skip=true aborts the add.
func (d *Dispatcher) DispatchAddURI(ctx context.Context, uri string) (skip bool) {
	for _, o := range d.snapshot() {
		if o.OnAddURI(ctx, uri) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) nowait(fn func(o Observer)) {
	for _, o := range d.snapshot() {
		d.wg.Add(1)
		go func(o Observer) {
			defer d.wg.Done()
			fn(o)
		}(o)
	}
}

func (d *Dispatcher) DispatchStartup(ctx context.Context) {
	d.nowait(func(o Observer) { o.OnStartup(ctx) })
}

func (d *Dispatcher) DispatchShutdown(ctx context.Context) {
	d.nowait(func(o Observer) { o.OnShutdown(ctx) })
}

func (d *Dispatcher) DispatchDownloadStart(ctx context.Context, t *task.Task) {
	d.nowait(func(o Observer) { o.OnDownloadStart(ctx, t) })
}

func (d *Dispatcher) DispatchDownloadPause(ctx context.Context, t *task.Task) {
	d.nowait(func(o Observer) { o.OnDownloadPause(ctx, t) })
}

func (d *Dispatcher) DispatchDownloadStop(ctx context.Context, t *task.Task) {
	d.nowait(func(o Observer) { o.OnDownloadStop(ctx, t) })
}

func (d *Dispatcher) DispatchDownloadComplete(ctx context.Context, t *task.Task) {
	d.nowait(func(o Observer) { o.OnDownloadComplete(ctx, t) })
}

func (d *Dispatcher) DispatchDownloadError(ctx context.Context, t *task.Task, err error) {
	d.nowait(func(o Observer) { o.OnDownloadError(ctx, t, err) })
}

// Wait blocks until every dispatched (nowait) hook has returned, used by
// Shutdown to avoid leaking goroutines past process teardown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
