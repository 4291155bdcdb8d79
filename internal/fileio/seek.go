package fileio

import (
	"os"
	"sync"
)

// seekWriter backs the "generalio" fileio kind: save the current position,
// seek to the target offset, write, then restore the saved position. Ported
// from pygetex's generalio.pwrite. This backend is NOT safe for concurrent
// callers writing disjoint ranges — every WriteAt shares the file's single
// cursor — so it serializes all writers behind a mutex, unlike mmap and
// sysio which allow concurrent block workers.
type seekWriter struct {
	mu sync.Mutex
	f  *os.File
}

func openSeek(path string) (Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &seekWriter{f: f}, nil
}

func (w *seekWriter) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	saved, err := w.f.Seek(0, os.SEEK_CUR)
	if err != nil {
		return 0, err
	}
	if _, err := w.f.Seek(off, os.SEEK_SET); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	if _, serr := w.f.Seek(saved, os.SEEK_SET); serr != nil && err == nil {
		err = serr
	}
	return n, err
}

func (w *seekWriter) Close() error {
	return w.f.Close()
}
