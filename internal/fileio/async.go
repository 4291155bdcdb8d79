package fileio

import "sync"

// writeJob is one dispatched WriteAt call.
type writeJob struct {
	p    []byte
	off  int64
	done chan error
}

// AsyncWriter dispatches WriteAt calls onto a small fixed worker pool
// instead of running them inline on the calling block goroutine, for the
// fileio_async config option. Modeled on the teacher's WorkerPool dispatch
// loop in internal/download/pool.go, scaled down to a single job channel
// since the underlying Writer already serializes or parallelizes safely on
// its own.
type AsyncWriter struct {
	inner Writer
	jobs  chan writeJob
	wg    sync.WaitGroup
}

// NewAsyncWriter starts workers workers, each pulling from a shared job
// queue and calling inner.WriteAt.
func NewAsyncWriter(inner Writer, workers int) *AsyncWriter {
	if workers < 1 {
		workers = 1
	}
	aw := &AsyncWriter{inner: inner, jobs: make(chan writeJob, workers*4)}
	aw.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go aw.loop()
	}
	return aw
}

func (aw *AsyncWriter) loop() {
	defer aw.wg.Done()
	for j := range aw.jobs {
		_, err := aw.inner.WriteAt(j.p, j.off)
		j.done <- err
	}
}

// WriteAt enqueues the write and blocks until a worker has executed it,
// preserving the synchronous Writer contract for callers while moving the
// actual syscall off the block goroutine.
func (aw *AsyncWriter) WriteAt(p []byte, off int64) (int, error) {
	done := make(chan error, 1)
	aw.jobs <- writeJob{p: p, off: off, done: done}
	if err := <-done; err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close stops accepting new jobs, waits for workers to drain, and closes
// the inner writer.
func (aw *AsyncWriter) Close() error {
	close(aw.jobs)
	aw.wg.Wait()
	return aw.inner.Close()
}
