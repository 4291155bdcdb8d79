package fileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/synodriver/pygetex/internal/config"
)

func TestPreAlloc_CreatesFileOfGivenSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	if err := PreAlloc(path, 1024); err != nil {
		t.Fatalf("PreAlloc: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 1024 {
		t.Errorf("size = %d, want 1024", fi.Size())
	}
}

func TestPreAlloc_ExistingFileIsLeftAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := PreAlloc(path, 1024); err != nil {
		t.Fatalf("PreAlloc: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want preserved %q", data, "hello")
	}
}

func TestSyscallWriter_WriteAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := PreAlloc(path, 16); err != nil {
		t.Fatal(err)
	}
	w, err := openSyscall(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteAt([]byte("abcd"), 4); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data[4:8]) != "abcd" {
		t.Errorf("data[4:8] = %q, want abcd", data[4:8])
	}
}

func TestSeekWriter_WriteAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := PreAlloc(path, 16); err != nil {
		t.Fatal(err)
	}
	w, err := openSeek(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteAt([]byte("xyz"), 10); err != nil {
		t.Fatal(err)
	}
	w.Close()
	data, _ := os.ReadFile(path)
	if string(data[10:13]) != "xyz" {
		t.Errorf("data[10:13] = %q, want xyz", data[10:13])
	}
}

func TestMmapWriter_WriteAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := PreAlloc(path, 16); err != nil {
		t.Fatal(err)
	}
	w, err := openMmap(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteAt([]byte("mmap"), 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data[:4]) != "mmap" {
		t.Errorf("data[:4] = %q, want mmap", data[:4])
	}
}

func TestOpen_SelectsBackendFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := PreAlloc(path, 16); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{FileIO: config.FileIOSys}
	w, err := Open(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, ok := w.(*syscallWriter); !ok {
		t.Errorf("Open with FileIOSys returned %T, want *syscallWriter", w)
	}
}

func TestAsyncWriter_DispatchesToInner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := PreAlloc(path, 16); err != nil {
		t.Fatal(err)
	}
	inner, err := openSyscall(path)
	if err != nil {
		t.Fatal(err)
	}
	aw := NewAsyncWriter(inner, 2)
	if _, err := aw.WriteAt([]byte("ok"), 0); err != nil {
		t.Fatal(err)
	}
	if err := aw.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data[:2]) != "ok" {
		t.Errorf("data[:2] = %q, want ok", data[:2])
	}
}
