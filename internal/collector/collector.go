// Package collector implements the StatsCollector: the in-memory registry
// of active split-states, a periodic speed sampler, and the status-mutating
// methods that close out a task's in-memory bookkeeping when it leaves the
// active set. Ported directly from
// original_source/pygetex/core/statscollector.py.
package collector

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/splitstate"
	"github.com/synodriver/pygetex/internal/store"
	"github.com/synodriver/pygetex/internal/task"
)

// entry pairs a task's split-state with the checkpoint path it should be
// saved to on pause/shutdown.
type entry struct {
	state          *splitstate.SplitState
	checkpointPath string
}

// Collector is the StatsCollector. All exported methods are safe for
// concurrent use.
type Collector struct {
	cfg   *config.Config
	store *store.Store

	mu     sync.Mutex
	active map[string]*entry
	speed  map[string]float64
	// lastRemain is the previous sample's remaining-bytes snapshot, used to
	// compute a per-interval delta rather than an instantaneous rate.
	lastRemain map[string]int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the background sampler loop immediately.
func New(cfg *config.Config, st *store.Store) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		cfg:        cfg,
		store:      st,
		active:     map[string]*entry{},
		speed:      map[string]float64{},
		lastRemain: map[string]int64{},
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.sample(ctx)
	return c
}

// TaskAdd registers a task's split-state as active. Idempotent: calling it
// twice for the same id (once to reserve the slot before the real
// split-state is known, once with the real one) simply replaces the entry,
// matching pygetex's "called 2x is normal" comment.
func (c *Collector) TaskAdd(id string, state *splitstate.SplitState, checkpointPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[id] = &entry{state: state, checkpointPath: checkpointPath}
}

// TaskComplete marks a task finished: removes its checkpoint file (if any),
// sets status=complete in the store, and drops it from the active set.
func (c *Collector) TaskComplete(ctx context.Context, id string) error {
	c.mu.Lock()
	e, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("collector: task %s is not active", id)
	}
	delete(c.active, id)
	delete(c.speed, id)
	delete(c.lastRemain, id)
	c.mu.Unlock()

	if e.checkpointPath != "" {
		os.Remove(e.checkpointPath)
	}
	return c.store.UpdateStatus(ctx, id, task.StatusComplete)
}

// TaskPause saves the task's checkpoint, sets status=paused, and drops it
// from the active set. The checkpoint file is kept (unlike TaskComplete)
// so Unpause can resume from it.
func (c *Collector) TaskPause(ctx context.Context, id string) error {
	c.mu.Lock()
	e, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("collector: task %s is not active", id)
	}
	delete(c.active, id)
	delete(c.speed, id)
	delete(c.lastRemain, id)
	c.mu.Unlock()

	if e.checkpointPath != "" {
		if err := e.state.Save(e.checkpointPath); err != nil {
			return err
		}
	}
	return c.store.UpdateStatus(ctx, id, task.StatusPaused)
}

// TaskStop is idempotent: it looks the row up regardless of whether it's
// currently active, removes any checkpoint, and sets status=stopped. It
// does not error if the task was never registered as active (mirroring
// pygetex's dict.pop(taskid, default) no-KeyError behavior), but it does
// return the store's not-found error if the row itself doesn't exist.
func (c *Collector) TaskStop(ctx context.Context, id string) error {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	e, ok := c.active[id]
	delete(c.active, id)
	delete(c.speed, id)
	delete(c.lastRemain, id)
	c.mu.Unlock()

	checkpointPath := t.Path + c.cfg.Overlay(t.Options).GetTempfileSuffix()
	if ok && e.checkpointPath != "" {
		checkpointPath = e.checkpointPath
	}
	os.Remove(checkpointPath)
	return c.store.UpdateStatus(ctx, id, task.StatusStopped)
}

// TaskError sets status=error and keeps any checkpoint (a later manual
// retry may want it), dropping the task from the active set.
func (c *Collector) TaskError(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.active, id)
	delete(c.speed, id)
	delete(c.lastRemain, id)
	c.mu.Unlock()

	return c.store.UpdateStatus(ctx, id, task.StatusError)
}

// Speed returns the last-sampled speed for an active task: bytes
// transferred during the most recent sampling window, not divided by the
// window length (spec.md §9 open question (b), resolved to match
// pygetex's _updating_task, which computes previous_remain - current_remain
// with no division by update_interval).
func (c *Collector) Speed(id string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.speed[id]
	return s, ok
}

func (c *Collector) sample(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.GetUpdateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	c.mu.Lock()
	snapshot := make(map[string]int64, len(c.active))
	for id, e := range c.active {
		snapshot[id] = e.state.RemainBytes()
	}
	for id, remain := range snapshot {
		if prev, ok := c.lastRemain[id]; ok {
			c.speed[id] = float64(prev - remain)
		}
		c.lastRemain[id] = remain
	}
	speeds := make(map[string]float64, len(c.speed))
	for id, s := range c.speed {
		speeds[id] = s
	}
	c.mu.Unlock()

	for id, s := range speeds {
		c.store.UpdateSpeed(ctx, id, s)
	}
}

// SaveAll checkpoints every active task without removing it from the
// active set, used by Close.
func (c *Collector) SaveAll() error {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.active))
	for _, e := range c.active {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if e.checkpointPath == "" {
			continue
		}
		if err := e.state.Save(e.checkpointPath); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close checkpoints every still-active task and stops the sampler loop.
func (c *Collector) Close() error {
	err := c.SaveAll()
	c.cancel()
	<-c.done
	return err
}
