// Package logx is the engine's debug logger: a lazily-opened, process-wide
// log file plus an optional stderr mirror switched by Enable. Every Debug
// call writes to the file; config.Config.Debug is not consulted here.
package logx

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	once    sync.Once
	logger  *log.Logger
	enabled bool
	mu      sync.Mutex
)

// Dir is the directory debug-*.log files are created in. Callers set this
// before the first Debug call; it defaults to "./logs".
var Dir = "logs"

// Enable turns the stderr mirror of Debug output on or off. Safe to call
// more than once and at any time; it does not affect the log file.
func Enable(on bool) {
	mu.Lock()
	enabled = on
	mu.Unlock()
}

func open() {
	if err := os.MkdirAll(Dir, 0o755); err != nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
		return
	}
	name := filepath.Join(Dir, fmt.Sprintf("debug-%s.log", time.Now().Format("20060102-150405.000")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
		return
	}
	logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
}

// Debug writes a formatted line to the debug log file, mirroring to stderr
// when debug logging is enabled. The file is created on first use.
func Debug(format string, args ...any) {
	once.Do(open)
	msg := fmt.Sprintf(format, args...)
	logger.Print(msg)
	mu.Lock()
	on := enabled
	mu.Unlock()
	if on {
		fmt.Fprintln(os.Stderr, msg)
	}
}
