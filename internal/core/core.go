// Package core implements CoreProcess: the top-level orchestrator that maps
// task ids to cancellation handles, dispatches lifecycle events, recovers
// in-flight downloads at startup, and exposes every user-facing operation
// named by the engine's external interface. Ported from
// original_source/pygetex/core/__init__.py's CoreProcess, with the
// active-task bookkeeping and collision-safe path resolution generalized
// from internal/download/{manager.go,pool.go} in the teacher.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/synodriver/pygetex/internal/collector"
	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/downloader"
	"github.com/synodriver/pygetex/internal/errs"
	"github.com/synodriver/pygetex/internal/events"
	"github.com/synodriver/pygetex/internal/handler"
	"github.com/synodriver/pygetex/internal/logx"
	"github.com/synodriver/pygetex/internal/store"
	"github.com/synodriver/pygetex/internal/task"
)

// Version is the engine's self-reported version, returned by GetVersion.
const Version = "0.1.0"

// activeTask is what CoreProcess tracks for every in-flight download. done
// is closed once the handler goroutine has returned, so Pause/Stop can wait
// for block workers to stop advancing their cursors before checkpointing.
type activeTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// CoreProcess is the engine's orchestrator. Create one with New, call
// Startup before issuing any other operation, and Shutdown when done.
type CoreProcess struct {
	cfg        *config.Config
	store      *store.Store
	collector  *collector.Collector
	handler    *handler.Handler
	dispatcher *events.Dispatcher
	lock       *flock.Flock

	mu     sync.Mutex
	active map[string]*activeTask
	pathMu sync.Mutex // serializes collision-avoiding path resolution + row insert (open question 1)

	wg sync.WaitGroup
}

// New wires up a CoreProcess against cfg, opening (and creating, if absent)
// the store at cfg.GetDatabase().
func New(cfg *config.Config) (*CoreProcess, error) {
	st, err := store.Open(cfg.GetDatabase())
	if err != nil {
		return nil, err
	}
	coll := collector.New(cfg, st)
	return &CoreProcess{
		cfg:        cfg,
		store:      st,
		collector:  coll,
		handler:    handler.New(coll),
		dispatcher: events.NewDispatcher(),
		active:     map[string]*activeTask{},
	}, nil
}

// RegisterObserver adds an event observer. Call before Startup so
// OnStartup fires for it too.
func (c *CoreProcess) RegisterObserver(o events.Observer) {
	c.dispatcher.Register(o)
}

// GetVersion returns the engine's version string.
func (c *CoreProcess) GetVersion() string { return Version }

// Startup acquires the single-instance lock, resumes any task left in the
// "downloading" state by a previous process (crash recovery), and fires
// OnStartup. Ported from pygetex's CoreProcess.startup -> _resume_tasks.
func (c *CoreProcess) Startup(ctx context.Context) error {
	lockPath := filepath.Join(filepath.Dir(c.cfg.GetDatabase()), "pygetex.lock")
	c.lock = flock.New(lockPath)
	locked, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running (lock at %s)", lockPath)
	}

	if err := c.resumeTasks(ctx); err != nil {
		return err
	}
	c.dispatcher.DispatchStartup(ctx)
	return nil
}

func (c *CoreProcess) resumeTasks(ctx context.Context) error {
	rows, err := c.store.ListByStatus(ctx, task.StatusDownloading)
	if err != nil {
		return err
	}
	for _, t := range rows {
		logx.Debug("resuming task %s (%s) after restart", t.ID, t.URI)
		c.spawn(ctx, t, true)
	}
	return nil
}

// Shutdown flushes the collector's in-memory state to checkpoints, fires
// OnShutdown, waits for dispatched events to drain, and releases the
// instance lock.
func (c *CoreProcess) Shutdown(ctx context.Context) error {
	err := c.collector.Close()
	c.dispatcher.DispatchShutdown(ctx)
	c.dispatcher.Wait()
	if c.lock != nil {
		c.lock.Unlock()
	}
	return err
}

// Wait blocks until every currently in-flight download completes, pauses,
// stops or errors out.
func (c *CoreProcess) Wait() {
	c.wg.Wait()
}

// Add implements the six-step flow: dispatch OnAddURI, probe metadata,
// resolve a collision-free destination path, insert the row, spawn the
// handler, and dispatch OnDownloadStart. Ported from pygetex's
// CoreProcess.add_uri.
func (c *CoreProcess) Add(ctx context.Context, uri string, opts task.Options) (*task.Task, error) {
	if skip := c.dispatcher.DispatchAddURI(ctx, uri); skip {
		return nil, fmt.Errorf("core: add of %s vetoed by an observer", uri)
	}

	dlName, ok := handler.ResolveDownloader(uri)
	if !ok {
		return nil, fmt.Errorf("core: no handler can service %s", uri)
	}
	cfg := c.cfg.Overlay(opts)
	if cfgOverride, ok2 := opts["downloader"].(string); ok2 && cfgOverride != "" {
		dlName = cfgOverride
	}

	dl, err := downloader.New(dlName, cfg)
	if err != nil {
		return nil, err
	}
	meta, err := dl.Metadata(ctx, uri, opts)
	if err != nil {
		return nil, err
	}

	filename := meta.Filename
	if out := cfg.GetOut(); out != "" {
		filename = out
	}
	if filename == "" {
		filename = "download.bin"
	}

	c.pathMu.Lock()
	path, err := c.resolvePath(ctx, cfg.GetDir(), filename)
	if err != nil {
		c.pathMu.Unlock()
		return nil, err
	}

	t := task.New(uri, path, meta.FileSize, meta.SupportRange, opts)
	err = c.store.Insert(ctx, t)
	c.pathMu.Unlock()
	if err != nil {
		return nil, err
	}

	c.spawn(ctx, t, false)
	c.dispatcher.DispatchDownloadStart(ctx, t)
	return t, nil
}

// resolvePath appends " (1)", " (2)", ... until it finds a filename that's
// neither on disk nor already referenced by a row in the store. The caller
// holds pathMu across this call and the row insert, so two concurrent Adds
// targeting the same filename can't race each other onto the same path
// (spec.md §9 open question 1).
func (c *CoreProcess) resolvePath(ctx context.Context, dir, filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filepath.Join(dir, filename)
	for i := 1; i < 1000; i++ {
		_, statErr := os.Stat(candidate)
		onDisk := statErr == nil
		inStore, err := c.store.PathExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !onDisk && !inStore {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	return "", fmt.Errorf("core: could not find a free filename for %s after 1000 attempts", filename)
}

// spawn launches a task's handler goroutine, registering its cancellation
// handle in the active map and arranging for completion bookkeeping,
// mirroring pygetex's asyncio.create_task + add_done_callback pair.
func (c *CoreProcess) spawn(ctx context.Context, t *task.Task, resume bool) {
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.active[t.ID] = &activeTask{cancel: cancel, done: done}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		cfg := c.cfg.Overlay(t.Options)
		err := c.handler.Handle(taskCtx, cfg, t, resume)
		close(done)
		c.onTaskDone(taskCtx, t, err)
	}()
}

// onTaskDone mirrors pygetex's _on_download_task_complete: only a clean,
// non-cancelled, error-free finish is treated as completion; everything
// else (cancellation from Pause/Stop, or a propagated handler error) is
// left to whichever caller (Pause/Stop/the handler's own fail path)
// already updated the collector and store.
func (c *CoreProcess) onTaskDone(ctx context.Context, t *task.Task, err error) {
	c.mu.Lock()
	delete(c.active, t.ID)
	c.mu.Unlock()

	if err == nil {
		if cerr := c.collector.TaskComplete(ctx, t.ID); cerr != nil {
			logx.Debug("collector.TaskComplete(%s): %v", t.ID, cerr)
			return
		}
		c.dispatcher.DispatchDownloadComplete(ctx, t)
		return
	}
	if errs.IsCancelled(err) {
		return // Pause/Stop already transitioned collector + store state
	}
	c.dispatcher.DispatchDownloadError(ctx, t, err)
}

// Pause cancels a currently active task, awaits its settled state so the
// checkpoint reflects exactly the blocks still in flight at this instant,
// then checkpoints it and dispatches on_download_pause. Returns
// ErrNotActive if the task isn't currently running.
func (c *CoreProcess) Pause(ctx context.Context, id string) error {
	c.mu.Lock()
	at, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	at.cancel()
	<-at.done
	if err := c.collector.TaskPause(ctx, id); err != nil {
		return err
	}
	if t, err := c.store.Get(ctx, id); err == nil {
		c.dispatcher.DispatchDownloadPause(ctx, t)
	}
	return nil
}

// PauseAll pauses every currently active task.
func (c *CoreProcess) PauseAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := c.Pause(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Unpause resumes a task whose row is currently paused or errored.
func (c *CoreProcess) Unpause(ctx context.Context, id string) error {
	c.mu.Lock()
	_, alreadyActive := c.active[id]
	c.mu.Unlock()
	if alreadyActive {
		return ErrAlreadyActive
	}

	t, err := c.store.Get(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	if t.Status != task.StatusPaused && t.Status != task.StatusError {
		return fmt.Errorf("core: task %s is %s, not paused or errored", id, t.Status)
	}
	if err := c.store.UpdateStatus(ctx, id, task.StatusDownloading); err != nil {
		return err
	}
	c.spawn(ctx, t, true)
	return nil
}

// UnpauseAll resumes every paused task.
func (c *CoreProcess) UnpauseAll(ctx context.Context) error {
	rows, err := c.store.ListByStatus(ctx, task.StatusPaused)
	if err != nil {
		return err
	}
	var firstErr error
	for _, t := range rows {
		if err := c.Unpause(ctx, t.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop cancels a task if it's active, awaits its settled state, and
// unconditionally records status=stopped, removing its checkpoint and
// dispatching on_download_stop. Idempotent: calling Stop twice, or on a
// task that was never active, is not an error as long as the row exists,
// mirroring pygetex's task_stop.
func (c *CoreProcess) Stop(ctx context.Context, id string) error {
	c.mu.Lock()
	at, ok := c.active[id]
	c.mu.Unlock()
	if ok {
		at.cancel()
		<-at.done
	}
	if err := c.collector.TaskStop(ctx, id); err != nil {
		return err
	}
	if t, err := c.store.Get(ctx, id); err == nil {
		c.dispatcher.DispatchDownloadStop(ctx, t)
	}
	return nil
}

// Remove stops a task (if active) and deletes its row.
func (c *CoreProcess) Remove(ctx context.Context, id string) error {
	if err := c.Stop(ctx, id); err != nil {
		return err
	}
	return c.store.Delete(ctx, id)
}

// TellStatus returns a task's current row.
func (c *CoreProcess) TellStatus(ctx context.Context, id string) (*task.Task, error) {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// TellActive lists every currently-downloading task.
func (c *CoreProcess) TellActive(ctx context.Context) ([]*task.Task, error) {
	return c.store.ListByStatus(ctx, task.StatusDownloading)
}

// TellPaused lists every paused task.
func (c *CoreProcess) TellPaused(ctx context.Context) ([]*task.Task, error) {
	return c.store.ListByStatus(ctx, task.StatusPaused)
}

// TellStopped lists every stopped task.
func (c *CoreProcess) TellStopped(ctx context.Context) ([]*task.Task, error) {
	return c.store.ListByStatus(ctx, task.StatusStopped)
}

// GetOption returns a single task's effective option set (its own
// overrides merged onto the global config).
func (c *CoreProcess) GetOption(ctx context.Context, id string) (map[string]any, error) {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return c.cfg.Overlay(t.Options).AsOptions(), nil
}

// ChangeOption merges new options onto a task's stored overrides with a
// single row update (spec.md §9 open question 3).
func (c *CoreProcess) ChangeOption(ctx context.Context, id string, opts task.Options) error {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	merged := task.Options{}
	for k, v := range t.Options {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	return c.store.UpdateOptions(ctx, id, merged)
}

// GetGlobalOption returns the process-wide default config as an option map.
func (c *CoreProcess) GetGlobalOption() map[string]any {
	return c.cfg.AsOptions()
}

// ChangeGlobalOption mutates the process-wide default config in place.
// Already-running tasks keep whatever config they were spawned with; only
// tasks added or resumed afterward see the new defaults.
func (c *CoreProcess) ChangeGlobalOption(opts map[string]any) {
	c.cfg = c.cfg.Overlay(opts)
}

// PurgeDownloadResult deletes every row whose status is complete or error,
// and returns how many rows were removed. Stopped rows are left in place.
func (c *CoreProcess) PurgeDownloadResult(ctx context.Context) (int64, error) {
	return c.store.PurgeTerminal(ctx)
}
