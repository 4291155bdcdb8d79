// Package downloader holds the per-protocol metadata + ranged-stream
// contract (the engine's "Downloader adapters") and a short-name registry
// replacing pygetex's dotted-path load_object, per the design notes.
package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/task"
)

// Metadata is what a Downloader can learn about a URI before any bytes are
// transferred: its size (if knowable), a filename hint, and whether ranged
// reads are supported.
type Metadata struct {
	FileSize     int64 // -1 if unknown
	Filename     string
	SupportRange bool
}

// Downloader is the contract every protocol adapter implements: probe a
// URI's metadata, and open a byte stream for a given (possibly partial)
// range. end == -1 means "read to EOF".
type Downloader interface {
	// Metadata probes uri without downloading its body, applying any
	// per-task option overrides in opts (e.g. a custom User-Agent).
	Metadata(ctx context.Context, uri string, opts task.Options) (Metadata, error)
	// Open returns a stream of bytes [start, end] (inclusive) from uri.
	// When end < 0 the stream runs to EOF. The caller must Close it.
	Open(ctx context.Context, uri string, start, end int64) (io.ReadCloser, error)
}

// Factory builds a Downloader bound to a Config (for things like
// connection-pool tuning).
type Factory func(cfg *config.Config) Downloader

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a downloader factory under a short name (e.g. "http"),
// replacing pygetex's config.downloader dotted-import-path mechanism.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New builds the downloader registered under name, or an error if no such
// downloader has been registered.
func New(name string, cfg *config.Config) (Downloader, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("downloader: no factory registered for %q", name)
	}
	return f(cfg), nil
}

func init() {
	Register(config.DownloaderHTTP, newHTTPDownloader)
	Register(config.DownloaderFTP, newFTPDownloader)
	Register(config.DownloaderSFTP, newSFTPDownloader)
}
