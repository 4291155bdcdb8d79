package handler

import "sync"

// Registration pairs a URI-scope predicate with the downloader registry
// name a matching URI should use by default. Registered in an explicit
// ordered table built at startup, replacing pygetex's HandlerMeta
// metaclass-based registration (design note a) — there is one generic
// Handler (see handler.go), since the original author's own handler/http.py
// and handler/sftp.py were already structurally identical beyond the
// downloader they construct.
type Registration struct {
	Name           string
	Scope          func(uri string) bool
	DownloaderName string
}

var (
	registryMu sync.RWMutex
	registry   []Registration
)

// RegisterScope adds a scope predicate in insertion order; ResolveDownloader
// returns the first match.
func RegisterScope(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, r)
}

// ResolveDownloader returns the downloader registry name for the first
// registration whose Scope matches uri, and whether any matched at all.
func ResolveDownloader(uri string) (string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, r := range registry {
		if r.Scope(uri) {
			return r.DownloaderName, true
		}
	}
	return "", false
}

func init() {
	RegisterScope(Registration{Name: "http", Scope: httpScope, DownloaderName: "http"})
	RegisterScope(Registration{Name: "ftp", Scope: ftpScope, DownloaderName: "ftp"})
	RegisterScope(Registration{Name: "sftp", Scope: sftpScope, DownloaderName: "sftp"})
}
