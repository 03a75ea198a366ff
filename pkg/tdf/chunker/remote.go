package chunker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// RemoteChunker is a Chunker backed by HTTP Range requests against a single
// URL. Idempotent GETs are retried with exponential backoff (at least 3
// attempts) to absorb transient network failures.
type RemoteChunker struct {
	url        string
	httpClient *http.Client
	size       int64
	sizeKnown  bool
}

// NewRemoteChunker returns a Chunker for url. If httpClient is nil,
// http.DefaultClient is used.
func NewRemoteChunker(url string, httpClient *http.Client) *RemoteChunker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RemoteChunker{url: url, httpClient: httpClient}
}

func (c *RemoteChunker) Size(ctx context.Context) (int64, error) {
	if c.sizeKnown {
		return c.size, nil
	}
	// HEAD to discover Content-Length; fall back to a single-byte ranged GET
	// if the server doesn't answer HEAD usefully.
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("chunker: build HEAD request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.ContentLength >= 0 {
		c.size = resp.ContentLength
		c.sizeKnown = true
		return c.size, nil
	}

	// Some servers don't answer HEAD with a length; fall back to a
	// single-byte ranged GET and read the total from Content-Range.
	req2, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("chunker: build GET request: %w", err)
	}
	req2.Header.Set("Range", "bytes=0-0")
	resp2, err := c.do(ctx, req2)
	if err != nil {
		return 0, err
	}
	defer resp2.Body.Close()
	io.Copy(io.Discard, resp2.Body) //nolint:errcheck

	total := parseContentRangeTotal(resp2.Header.Get("Content-Range"))
	if total < 0 {
		return 0, fmt.Errorf("chunker: remote %q did not report a content length", c.url)
	}
	c.size = total
	c.sizeKnown = true
	return c.size, nil
}

func (c *RemoteChunker) ReadRange(ctx context.Context, start, end *int64) ([]byte, error) {
	if end != nil && *end < 0 {
		return nil, ErrNegativeEndUnsupported
	}

	var lo, hi int64
	haveBounds := start != nil || end != nil
	if haveBounds {
		size, err := c.Size(ctx)
		if err != nil {
			return nil, err
		}
		lo, hi, err = resolveRange(size, start, end, false)
		if err != nil {
			return nil, err
		}
		if hi <= lo {
			return []byte{}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("chunker: build GET request: %w", err)
	}
	if haveBounds {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", lo, hi-1))
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chunker: remote %q returned status %d", c.url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chunker: read response body: %w", err)
	}
	// A server that ignores Range answers 200 with the whole object.
	if haveBounds && resp.StatusCode == http.StatusOK {
		if int64(len(body)) < hi {
			return nil, fmt.Errorf("chunker: remote %q returned %d bytes, want at least %d", c.url, len(body), hi)
		}
		body = body[lo:hi]
	}
	return body, nil
}

// do performs req with exponential-backoff retries on transport errors and
// 5xx responses, up to 3 attempts. 4xx responses are returned immediately
// without retry (they are not transient).
func (c *RemoteChunker) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var policy backoff.BackOff = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 total attempts
	policy = backoff.WithContext(policy, ctx)

	var resp *http.Response
	op := func() error {
		r, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("chunker: transient status %d from %s", r.StatusCode, req.URL)
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("chunker: request to %s failed: %w", req.URL, err)
	}
	return resp, nil
}

// parseContentRangeTotal extracts the total size from a "Content-Range:
// bytes a-b/total" header, returning -1 if absent or malformed.
func parseContentRangeTotal(header string) int64 {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 || idx == len(header)-1 {
		return -1
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return total
}
