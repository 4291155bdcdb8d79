package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/synodriver/pygetex/internal/collector"
	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/downloader"
	"github.com/synodriver/pygetex/internal/splitstate"
	"github.com/synodriver/pygetex/internal/store"
	"github.com/synodriver/pygetex/internal/task"
)

// fakeDownloader serves byte ranges out of an in-memory buffer, optionally
// failing every Open for a given block once (to exercise error propagation)
// and recording which ranges were requested (to exercise block splitting).
type fakeDownloader struct {
	mu       sync.Mutex
	data     []byte
	opens    [][2]int64
	failOnce map[int64]bool // keyed by start offset
}

func (f *fakeDownloader) Metadata(ctx context.Context, uri string, opts task.Options) (downloader.Metadata, error) {
	return downloader.Metadata{FileSize: int64(len(f.data)), SupportRange: true}, nil
}

func (f *fakeDownloader) Open(ctx context.Context, uri string, start, end int64) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opens = append(f.opens, [2]int64{start, end})
	if f.failOnce[start] {
		delete(f.failOnce, start)
		f.mu.Unlock()
		return nil, errors.New("simulated transport failure")
	}
	f.mu.Unlock()

	if end < 0 || int(end) >= len(f.data) {
		end = int64(len(f.data) - 1)
	}
	return io.NopCloser(bytes.NewReader(f.data[start : end+1])), nil
}

func registerFake(t *testing.T, name string, f *fakeDownloader) {
	t.Helper()
	downloader.Register(name, func(cfg *config.Config) downloader.Downloader { return f })
}

func newTestHandler(t *testing.T) (*Handler, *store.Store, *collector.Collector) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	coll := collector.New(&config.Config{}, st)
	t.Cleanup(func() { coll.Close() })
	return New(coll), st, coll
}

func testConfig(dir string) *config.Config {
	return &config.Config{FileIO: config.FileIOSys, Split: 4, ChunkSize: 1024, Dir: dir}
}

// S1: single-block download of a server that doesn't support ranges.
func TestHandle_SingleBlockUnknownSize(t *testing.T) {
	h, st, _ := newTestHandler(t)
	dir := t.TempDir()
	data := bytes.Repeat([]byte("a"), 5000)
	fd := &fakeDownloader{data: data}
	registerFake(t, "fake-s1", fd)

	path := filepath.Join(dir, "out.bin")
	tk := task.New("fake://host/f", path, -1, false, nil)
	if err := st.Insert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Downloader = "fake-s1"

	if err := h.Handle(context.Background(), cfg, tk, false); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got %d bytes, want %d", len(got), len(data))
	}
}

// S2: multi-block split download, all blocks succeed.
func TestHandle_MultiBlockSplit(t *testing.T) {
	h, st, _ := newTestHandler(t)
	dir := t.TempDir()
	data := bytes.Repeat([]byte("xy"), 5000) // 10000 bytes
	fd := &fakeDownloader{data: data}
	registerFake(t, "fake-s2", fd)

	path := filepath.Join(dir, "out.bin")
	tk := task.New("fake://host/f", path, int64(len(data)), true, nil)
	if err := st.Insert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Downloader = "fake-s2"
	cfg.Split = 4

	if err := h.Handle(context.Background(), cfg, tk, false); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded content does not match source across block boundaries")
	}
	fd.mu.Lock()
	nopens := len(fd.opens)
	fd.mu.Unlock()
	if nopens != 4 {
		t.Errorf("expected 4 block opens for split=4, got %d", nopens)
	}
}

// S3: pause mid-download then resume from the checkpoint, verifying the
// resumed download picks up from the saved cursor rather than restarting.
func TestHandlePauseThenResume_ContinuesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("z"), 4000)
	path := filepath.Join(dir, "out.bin")
	checkpoint := path + ".pyget"

	// Pre-seed a checkpoint as if a prior run paused after finishing block 0
	// (of 4) and got partway through block 1.
	state := splitstate.DivisionalRange(int64(len(data)), 4)
	state.Blocks[0].Finish()
	state.Blocks[1].SetCursor(state.Blocks[1].Start + 200)
	if err := state.Save(checkpoint); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, len(data)), 0o644); err != nil {
		t.Fatal(err)
	}

	h, st, _ := newTestHandler(t)
	fd := &fakeDownloader{data: data}
	registerFake(t, "fake-s3", fd)

	tk := task.New("fake://host/f", path, int64(len(data)), true, nil)
	if err := st.Insert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Downloader = "fake-s3"
	cfg.Split = 4

	if err := h.Handle(context.Background(), cfg, tk, true); err != nil {
		t.Fatalf("Handle (resume): %v", err)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, rng := range fd.opens {
		if rng[0] == state.Blocks[0].Start {
			t.Error("resumed download re-requested the already-finished block 0")
		}
	}
	if len(fd.opens) != 3 {
		t.Errorf("expected opens for the 3 unfinished blocks, got %d", len(fd.opens))
	}
}

// S5: a transport failure opening one block cancels the siblings and
// surfaces the error, leaving the task in an error state via the collector.
func TestHandle_BlockFailurePropagatesAndMarksError(t *testing.T) {
	h, st, _ := newTestHandler(t)
	dir := t.TempDir()
	data := bytes.Repeat([]byte("q"), 8000)
	fd := &fakeDownloader{data: data, failOnce: map[int64]bool{}}
	// Fail whichever block starts at the second quarter.
	state := splitstate.DivisionalRange(int64(len(data)), 4)
	fd.failOnce[state.Blocks[1].Start] = true
	registerFake(t, "fake-s5", fd)

	path := filepath.Join(dir, "out.bin")
	tk := task.New("fake://host/f", path, int64(len(data)), true, nil)
	if err := st.Insert(context.Background(), tk); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Downloader = "fake-s5"
	cfg.Split = 4

	err := h.Handle(context.Background(), cfg, tk, false)
	if err == nil {
		t.Fatal("expected an error from the failing block")
	}

	got, gerr := st.Get(context.Background(), tk.ID)
	if gerr != nil {
		t.Fatal(gerr)
	}
	if got.Status != task.StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
}

// S6: crash recovery is exercised at internal/core level (Startup
// respawning StatusDownloading rows); here we confirm a paused task's
// checkpoint round-trips byte-for-byte through Save/Load, which is the
// primitive that recovery depends on.
func TestCheckpointRoundTrip_SurvivesSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	checkpoint := filepath.Join(dir, "f.pyget")
	state := splitstate.DivisionalRange(9000, 3)
	state.Blocks[0].Finish()
	state.Blocks[1].SetCursor(state.Blocks[1].Start + 123)

	if err := state.Save(checkpoint); err != nil {
		t.Fatal(err)
	}
	loaded, err := splitstate.Load(checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	unfinished := loaded.UnfinishedBlocks()
	if len(unfinished) != 2 {
		t.Fatalf("expected 2 unfinished blocks after reload, got %d", len(unfinished))
	}
	if unfinished[0].Cursor() != state.Blocks[1].Start+123 {
		t.Errorf("resumed cursor = %d, want %d", unfinished[0].Cursor(), state.Blocks[1].Start+123)
	}
}
