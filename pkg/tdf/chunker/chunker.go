// Package chunker provides a uniform random-access byte source over
// in-memory buffers, local files, remote HTTP endpoints (via Range
// requests), and one-shot streams. All four variants behave identically for
// equivalent ranges, per the chunker semantics in the specification.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNegativeEndUnsupported is returned by chunker variants that cannot
// resolve a negative byte_end (currently: Remote).
var ErrNegativeEndUnsupported = errors.New("chunker: negative byte_end is not supported by this source")

// Chunker is a random-access byte source. ReadRange returns the bytes in
// [start, end); a nil start or end means "from the beginning" / "to the
// end" respectively. A negative start is resolved as max(0, size+start). A
// negative end is resolved as size+end for sources that support it
// (Buffer, File, Stream-once-materialized); Remote returns
// ErrNegativeEndUnsupported.
type Chunker interface {
	// Size returns the total content length in bytes.
	Size(ctx context.Context) (int64, error)
	// ReadRange returns content[start:end] per the semantics above.
	ReadRange(ctx context.Context, start, end *int64) ([]byte, error)
}

// resolveRange normalizes start/end against size into a concrete [lo, hi)
// pair, applying the negative-index and absent-bound rules. allowNegativeEnd
// controls whether a negative end is resolved (true) or rejected (false).
func resolveRange(size int64, start, end *int64, allowNegativeEnd bool) (lo, hi int64, err error) {
	lo = 0
	if start != nil {
		s := *start
		if s < 0 {
			s = size + s
			if s < 0 {
				s = 0
			}
		}
		lo = s
	}

	hi = size
	if end != nil {
		e := *end
		if e < 0 {
			if !allowNegativeEnd {
				return 0, 0, ErrNegativeEndUnsupported
			}
			e = size + e
		}
		hi = e
	}

	if lo > size {
		lo = size
	}
	if hi > size {
		hi = size
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

// BufferChunker is a Chunker over an in-memory byte slice.
type BufferChunker struct {
	data []byte
}

// NewBufferChunker wraps data as a Chunker. data is not copied; callers must
// not mutate it afterward.
func NewBufferChunker(data []byte) *BufferChunker {
	return &BufferChunker{data: data}
}

func (c *BufferChunker) Size(context.Context) (int64, error) {
	return int64(len(c.data)), nil
}

func (c *BufferChunker) ReadRange(_ context.Context, start, end *int64) ([]byte, error) {
	lo, hi, err := resolveRange(int64(len(c.data)), start, end, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, hi-lo)
	copy(out, c.data[lo:hi])
	return out, nil
}

// FileChunker is a Chunker over a seekable local file. It also stands in
// for the "Blob" variant from the spec's polymorphic source model: a
// browser Blob has no server-side analog, and a seekable local handle is
// the closest-behaving substitute (see DESIGN.md).
type FileChunker struct {
	f    *os.File
	size int64
}

// NewFileChunker opens path for random-access reads.
func NewFileChunker(path string) (*FileChunker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("chunker: stat %q: %w", path, err)
	}
	return &FileChunker{f: f, size: info.Size()}, nil
}

func (c *FileChunker) Size(context.Context) (int64, error) {
	return c.size, nil
}

func (c *FileChunker) ReadRange(_ context.Context, start, end *int64) ([]byte, error) {
	lo, hi, err := resolveRange(c.size, start, end, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, hi-lo)
	if _, err := c.f.ReadAt(out, lo); err != nil && err != io.EOF {
		return nil, fmt.Errorf("chunker: read at %d: %w", lo, err)
	}
	return out, nil
}

// Close releases the underlying file handle.
func (c *FileChunker) Close() error {
	return c.f.Close()
}

// StreamChunker materializes a one-shot io.Reader into an in-memory buffer
// the first time any range is requested, then behaves like a BufferChunker.
type StreamChunker struct {
	src      io.Reader
	buffered *BufferChunker
}

// NewStreamChunker wraps a one-shot reader.
func NewStreamChunker(src io.Reader) *StreamChunker {
	return &StreamChunker{src: src}
}

func (c *StreamChunker) materialize() error {
	if c.buffered != nil {
		return nil
	}
	data, err := io.ReadAll(c.src)
	if err != nil {
		return fmt.Errorf("chunker: materialize stream: %w", err)
	}
	c.buffered = NewBufferChunker(data)
	return nil
}

func (c *StreamChunker) Size(ctx context.Context) (int64, error) {
	if err := c.materialize(); err != nil {
		return 0, err
	}
	return c.buffered.Size(ctx)
}

func (c *StreamChunker) ReadRange(ctx context.Context, start, end *int64) ([]byte, error) {
	if err := c.materialize(); err != nil {
		return nil, err
	}
	return c.buffered.ReadRange(ctx, start, end)
}
