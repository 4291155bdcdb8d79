package fileio

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// mmapWriter backs the "mmapio" fileio kind (the engine's default): the
// destination file is memory-mapped once, writes become ordinary slice
// copies, and the mapping is flushed on Close. Ported from pygetex's
// mmapio.pwrite/flush. The mapping covers the file's current size; growing
// it (a resize after a late Content-Length discovery) requires remapping,
// which callers avoid by pre-allocating the full size before Open. An empty
// file cannot be mapped, so a task whose size is unknown (nothing
// pre-allocated) fails to open with this backend.
type mmapWriter struct {
	mu sync.Mutex
	f  *os.File
	m  mmap.MMap
}

func openMmap(path string) (Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("mmapio: file %s must be pre-allocated before mapping", path)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &mmapWriter{f: f, m: m}, nil
}

func (w *mmapWriter) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if off+int64(len(p)) > int64(len(w.m)) {
		return 0, fmt.Errorf("mmapio: write at %d len %d exceeds mapped size %d", off, len(p), len(w.m))
	}
	n := copy(w.m[off:], p)
	return n, nil
}

func (w *mmapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ferr := w.m.Flush()
	uerr := w.m.Unmap()
	cerr := w.f.Close()
	if ferr != nil {
		return ferr
	}
	if uerr != nil {
		return uerr
	}
	return cerr
}
