// Package fileio implements the three positional-write backends named by
// the engine's FileIO layer: mmap, positional-syscall (pwrite) and
// seek+write. It is ported from original_source/pygetex/fileio/{mmapio,
// sysio,generalio}.py; the async-dispatch wrapper mirrors the worker-pool
// shape of the teacher's internal/download/pool.go WorkerPool.
package fileio

import (
	"fmt"
	"os"
	"time"

	"github.com/synodriver/pygetex/internal/config"
)

// Writer is a positional file writer: concurrent WriteAt calls at disjoint
// offsets must be safe, matching the contract every FileIO backend below
// provides (seek+write meets it only by serializing all writes behind a
// mutex, and says so).
type Writer interface {
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

// PreAlloc creates (or truncates, if it doesn't exist) a file of the given
// size at path, ported from pygetex's pre_alloc_file. If the file already
// exists (a resume), its mtime is refreshed and its size is left untouched,
// matching pre_alloc_file(path, length, exist_ok=True).
func PreAlloc(path string, size int64) error {
	if _, err := os.Stat(path); err == nil {
		now := time.Now()
		return os.Chtimes(path, now, now)
	} else if !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("truncate %s: %w", path, err)
		}
	}
	return nil
}

// Open opens (or creates) path for positional writes using the backend
// named by cfg.GetFileIO().
func Open(path string, cfg *config.Config) (Writer, error) {
	switch cfg.GetFileIO() {
	case config.FileIOMmap:
		return openMmap(path)
	case config.FileIOSeek:
		return openSeek(path)
	case config.FileIOSys:
		return openSyscall(path)
	default:
		return openSyscall(path)
	}
}
