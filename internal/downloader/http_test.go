package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/synodriver/pygetex/internal/config"
)

func rangeCapableServer(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			if r.Method != http.MethodHead {
				w.Write(body)
			}
			return
		}
		var start, end int
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= len(body) || end < 0 {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func TestHTTPDownloader_Metadata_ParsesContentRange(t *testing.T) {
	body := []byte("0123456789")
	srv := rangeCapableServer(body)
	defer srv.Close()

	dl := newHTTPDownloader(&config.Config{})
	meta, err := dl.Metadata(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.FileSize != int64(len(body)) {
		t.Errorf("FileSize = %d, want %d", meta.FileSize, len(body))
	}
	if !meta.SupportRange {
		t.Error("SupportRange should be true")
	}
	if meta.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want report.pdf", meta.Filename)
	}
}

func TestHTTPDownloader_Open_ReturnsRequestedRange(t *testing.T) {
	body := []byte("0123456789")
	srv := rangeCapableServer(body)
	defer srv.Close()

	dl := newHTTPDownloader(&config.Config{})
	rc, err := dl.Open(context.Background(), srv.URL, 2, 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2345" {
		t.Errorf("got %q, want %q", got, "2345")
	}
}

func TestHTTPDownloader_Metadata_NoRangeFallsBackToHead(t *testing.T) {
	body := []byte("hello world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(body)
		}
	}))
	defer srv.Close()

	dl := newHTTPDownloader(&config.Config{})
	meta, err := dl.Metadata(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.FileSize != int64(len(body)) {
		t.Errorf("FileSize = %d, want %d", meta.FileSize, len(body))
	}
	if meta.SupportRange {
		t.Error("SupportRange should be false when Accept-Ranges is absent")
	}
}
