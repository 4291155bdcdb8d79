package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/synodriver/pygetex/internal/config"
	"github.com/synodriver/pygetex/internal/task"
	"github.com/synodriver/pygetex/internal/utils"
)

// httpDownloader is the reference Downloader adapter: plain net/http with a
// Range:bytes=0-0 metadata probe, falling back to HEAD, ported from
// internal/engine/probe.go and original_source/pygetex/utils/http.go's
// guess_file_metadata.
type httpDownloader struct {
	client *http.Client
}

func newHTTPDownloader(cfg *config.Config) Downloader {
	return &httpDownloader{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

var contentRangeTotal = regexp.MustCompile(`bytes [^/]+/([0-9]+)`)

func (h *httpDownloader) Metadata(ctx context.Context, uri string, opts task.Options) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Metadata{}, err
	}
	req.Header.Set("Range", "bytes=0-0")
	applyOptionHeaders(req, opts)

	resp, err := h.client.Do(req)
	if err != nil {
		return Metadata{}, &TransportError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if m := contentRangeTotal.FindStringSubmatch(cr); m != nil {
				var size int64
				fmt.Sscanf(m[1], "%d", &size)
				return Metadata{
					FileSize:     size,
					Filename:     guessFilename(uri, resp),
					SupportRange: true, // a successful 206 is definitive proof of range support
				}, nil
			}
		}
	}

	// Fallback: HEAD for Content-Length.
	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return Metadata{}, err
	}
	applyOptionHeaders(headReq, opts)
	headResp, err := h.client.Do(headReq)
	if err != nil {
		return Metadata{}, &TransportError{URI: uri, Err: err}
	}
	defer headResp.Body.Close()

	size := int64(-1)
	if headResp.ContentLength >= 0 {
		size = headResp.ContentLength
	}
	return Metadata{
		FileSize:     size,
		Filename:     guessFilename(uri, headResp),
		SupportRange: supportsRanges(headResp.Header),
	}, nil
}

func (h *httpDownloader) Open(ctx context.Context, uri string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if start > 0 || end >= 0 {
		if end >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{URI: uri, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &TransportError{URI: uri, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}

func applyOptionHeaders(req *http.Request, opts task.Options) {
	if opts == nil {
		return
	}
	if ua, ok := opts["user_agent"].(string); ok && ua != "" {
		req.Header.Set("User-Agent", ua)
	}
}

func supportsRanges(h http.Header) bool {
	for _, v := range httpheader.AcceptRanges(h) {
		if v == "bytes" {
			return true
		}
	}
	return false
}

func guessFilename(uri string, resp *http.Response) string {
	if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
		return name
	}
	name, _, err := utils.DetermineFilename(uri, resp, false)
	if err != nil {
		return ""
	}
	return name
}
