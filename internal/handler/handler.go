// Package handler implements the per-URI-scheme download strategy: block
// splitting, worker spawning, pwrite dispatch and error signalling. Ported
// from original_source/pygetex/handler/http.py's handle()/block_download();
// the single generic Handler below serves every scheme since the original
// author's http.py and sftp.py were already structurally identical apart
// from which Downloader they construct (see registry.go).
package handler

import (
	"context"
	"io"
	"sync"

	"github.com/synodriver/pygetex/internal/collector"
	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/downloader"
	"github.com/synodriver/pygetex/internal/errs"
	"github.com/synodriver/pygetex/internal/fileio"
	"github.com/synodriver/pygetex/internal/logx"
	"github.com/synodriver/pygetex/internal/splitstate"
	"github.com/synodriver/pygetex/internal/task"
)

// Handler executes a task's download given a Config already overlaid with
// its per-task options.
type Handler struct {
	Collector *collector.Collector
}

// New returns a ready Handler bound to a StatsCollector.
func New(coll *collector.Collector) *Handler {
	return &Handler{Collector: coll}
}

// Handle runs task t to completion (or until ctx is cancelled), choosing
// the multi-block path when t.SupportRange is set and the size is known and
// the single-block path otherwise, exactly
// pygetex's handle(). resume indicates this call is resuming a
// previously-paused (or crash-recovered) task, so pre-allocation is skipped
// and a checkpoint is consulted for the multi-block path.
func (h *Handler) Handle(ctx context.Context, cfg *config.Config, t *task.Task, resume bool) error {
	// Reserve the slot immediately, mirroring pygetex's
	// collector.task_add(task.id, [[0,-1]]) placeholder registration —
	// this prevents a concurrent Stop/Pause from racing a "not active"
	// error against a handler that hasn't registered its real state yet.
	checkpointPath := t.Path + cfg.GetTempfileSuffix()
	h.Collector.TaskAdd(t.ID, splitstate.SingleUnsized(), checkpointPath)

	dlName, ok := ResolveDownloader(t.URI)
	if !ok {
		dlName = cfg.GetDownloader()
	}
	dl, err := downloader.New(dlName, cfg)
	if err != nil {
		h.fail(ctx, t, err)
		return err
	}

	if t.SizeKnown() && !resume {
		if err := fileio.PreAlloc(t.Path, t.FileSize); err != nil {
			ioErr := &errs.IOError{Op: "pre-alloc", Err: err}
			h.fail(ctx, t, ioErr)
			return ioErr
		}
	}

	writer, err := fileio.Open(t.Path, cfg)
	if err != nil {
		ioErr := &errs.IOError{Op: "open", Err: err}
		h.fail(ctx, t, ioErr)
		return ioErr
	}
	if cfg.GetFileIOAsync() {
		writer = fileio.NewAsyncWriter(writer, 4)
	}
	defer writer.Close()

	if !t.SupportRange || !t.SizeKnown() {
		return h.handleSingle(ctx, cfg, t, dl, writer, checkpointPath)
	}
	return h.handleMulti(ctx, cfg, t, dl, writer, checkpointPath, resume)
}

// handleSingle streams the whole body into one block, used when the server
// doesn't support ranges (or filesize is unknown). Ported from pygetex's
// "if not task.support_range" branch.
func (h *Handler) handleSingle(ctx context.Context, cfg *config.Config, t *task.Task, dl downloader.Downloader, w fileio.Writer, checkpointPath string) error {
	end := int64(-1)
	if t.SizeKnown() {
		end = t.FileSize - 1
	}
	block := splitstate.NewBlock(0, end)
	state := &splitstate.SplitState{Blocks: []*splitstate.Block{block}}
	h.Collector.TaskAdd(t.ID, state, checkpointPath)

	body, err := dl.Open(ctx, t.URI, 0, -1)
	if err != nil {
		if !errs.IsCancelled(err) {
			h.fail(ctx, t, err)
		}
		return err
	}
	defer body.Close()

	if err := streamInto(ctx, body, w, block, cfg.GetChunkSize()); err != nil {
		if !errs.IsCancelled(err) {
			h.fail(ctx, t, err)
		}
		return err
	}
	if !t.SizeKnown() {
		block.Finish()
	}
	return nil
}

// handleMulti splits the file into N blocks and downloads them concurrently,
// one goroutine per block, cancelling all siblings on the first error.
// Ported from pygetex's "else" branch + block_download, generalized from
// asyncio.gather to an errgroup-style fan-out.
func (h *Handler) handleMulti(ctx context.Context, cfg *config.Config, t *task.Task, dl downloader.Downloader, w fileio.Writer, checkpointPath string, resume bool) error {
	var state *splitstate.SplitState
	if resume {
		loaded, err := splitstate.Load(checkpointPath)
		if err != nil {
			logx.Debug("checkpoint for %s unreadable (%v), resplitting fresh", t.ID, err)
			loaded = splitstate.DivisionalRange(t.FileSize, cfg.GetSplit())
		}
		state = loaded
	} else {
		state = splitstate.DivisionalRange(t.FileSize, cfg.GetSplit())
	}
	h.Collector.TaskAdd(t.ID, state, checkpointPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, block := range state.Blocks {
		if block.Done() {
			continue
		}
		wg.Add(1)
		go func(b *splitstate.Block) {
			defer wg.Done()
			if err := h.downloadBlock(ctx, dl, t.URI, w, b, cfg.GetChunkSize()); err != nil {
				fail(err)
			}
		}(block)
	}
	wg.Wait()

	if firstErr != nil {
		if !errs.IsCancelled(firstErr) {
			h.fail(context.Background(), t, firstErr)
		}
		return firstErr
	}
	return nil
}

// downloadBlock streams one block's byte range from dl into w, advancing
// the block's cursor as data arrives, and asserts the cursor lands exactly
// one past the block's end when the stream closes — the Go analogue of
// pygetex's "assert ranges[block_index][0] == ranges[block_index][1] + 1".
func (h *Handler) downloadBlock(ctx context.Context, dl downloader.Downloader, uri string, w fileio.Writer, b *splitstate.Block, chunkSize int64) error {
	body, err := dl.Open(ctx, uri, b.Cursor(), b.End)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := streamInto(ctx, body, w, b, chunkSize); err != nil {
		return err
	}
	if b.End >= 0 && b.Cursor() != b.End+1 {
		return errs.ErrIncompleteBlock
	}
	return nil
}

// fail records a handler-level error against the task through the
// collector, mirroring pygetex's task_error call; the matching
// on_download_error dispatch is made by core's onTaskDone once the error is
// returned. The caller still returns the original error afterward, same as
// the Python `raise e`.
func (h *Handler) fail(ctx context.Context, t *task.Task, err error) {
	if cerr := h.Collector.TaskError(ctx, t.ID); cerr != nil {
		logx.Debug("collector.TaskError(%s) after handler failure: %v", t.ID, cerr)
	}
}

// streamInto copies body into w starting at block.Cursor(), advancing the
// cursor after every successful write, in chunkSize-sized reads.
func streamInto(ctx context.Context, body io.Reader, w fileio.Writer, block *splitstate.Block, chunkSize int64) error {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.WriteAt(buf[:n], block.Cursor()); werr != nil {
				return &errs.IOError{Op: "write", Err: werr}
			}
			block.Advance(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
