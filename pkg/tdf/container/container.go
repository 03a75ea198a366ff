// Package container implements the TDF3 ZIP envelope: exactly two entries,
// "0.payload" and "0.manifest.json", stored uncompressed in that order.
// It is component C3. The writer commits through a temp file renamed into
// place so a cancelled or failed write never leaves a partial container at
// the destination path; the reader opens a Chunker-backed io.ReaderAt so
// the central directory is located without pulling the whole object.
package container

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
)

// PayloadEntryName and ManifestEntryName are the two fixed ZIP entry names
// a TDF3 container carries, in this order.
const (
	PayloadEntryName  = "0.payload"
	ManifestEntryName = "0.manifest.json"
)

// ErrMissingEntry is returned when a container lacks one of the two
// required entries.
var ErrMissingEntry = errors.New("container: missing required entry")

// Writer assembles a TDF3 ZIP container on disk. It writes to a temporary
// file beside the destination and renames into place on Commit, so a failed
// or cancelled write never leaves a partial file at destPath.
type Writer struct {
	destPath string
	tmpFile  *os.File
	zw       *zip.Writer
	payload  io.Writer
	closed   bool
}

// Create opens a Writer for destPath. The temp file lives in the same
// directory as destPath so the final rename is same-filesystem and atomic.
func Create(destPath string) (*Writer, error) {
	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("container: create temp file: %w", err)
	}
	return &Writer{destPath: destPath, tmpFile: tmp, zw: zip.NewWriter(tmp)}, nil
}

// PayloadWriter returns a writer for the "0.payload" entry. It must be
// called exactly once, before WriteManifest.
func (w *Writer) PayloadWriter() (io.Writer, error) {
	if w.payload != nil {
		return nil, fmt.Errorf("container: payload entry already opened")
	}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: PayloadEntryName, Method: zip.Store})
	if err != nil {
		return nil, fmt.Errorf("container: create payload entry: %w", err)
	}
	w.payload = fw
	return fw, nil
}

// WriteManifest writes the "0.manifest.json" entry. Must be called after
// the payload entry has been fully written.
func (w *Writer) WriteManifest(data []byte) error {
	if w.payload == nil {
		return fmt.Errorf("container: payload entry must be written before manifest")
	}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: ManifestEntryName, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("container: create manifest entry: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("container: write manifest: %w", err)
	}
	return nil
}

// Commit finalizes the ZIP central directory and atomically renames the
// temp file to destPath. After Commit, the Writer must not be used again.
// On any error the temp file is removed and destPath is left untouched.
func (w *Writer) Commit() (err error) {
	defer func() {
		if err != nil {
			os.Remove(w.tmpFile.Name())
		}
	}()
	if err = w.zw.Close(); err != nil {
		return fmt.Errorf("container: close zip writer: %w", err)
	}
	if err = w.tmpFile.Sync(); err != nil {
		return fmt.Errorf("container: sync temp file: %w", err)
	}
	if err = w.tmpFile.Close(); err != nil {
		return fmt.Errorf("container: close temp file: %w", err)
	}
	w.closed = true
	if err = os.Rename(w.tmpFile.Name(), w.destPath); err != nil {
		return fmt.Errorf("container: rename into place: %w", err)
	}
	return nil
}

// Abort discards the in-progress container, removing the temp file. Safe
// to call after a failed Commit or instead of one.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.tmpFile.Close()
	os.Remove(w.tmpFile.Name())
}

// Reader opens a TDF3 container for reading without requiring the whole
// object in memory: it locates the ZIP central directory through a
// Chunker-backed io.ReaderAt, so a RemoteChunker need only fetch the
// trailing directory plus whichever entry bytes are actually read.
type Reader struct {
	zr       *zip.Reader
	payload  *zip.File
	manifest *zip.File
}

// chunkerReaderAt adapts a chunker.Chunker to io.ReaderAt for zip.NewReader,
// which requires random access to locate and parse the central directory.
type chunkerReaderAt struct {
	ctx context.Context
	c   chunker.Chunker
}

func (r chunkerReaderAt) ReadAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	data, err := r.c.ReadRange(r.ctx, &off, &end)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Open opens a TDF3 container backed by c, validating that both required
// entries are present. Entries are located by name; their order within the
// archive is not checked.
func Open(ctx context.Context, c chunker.Chunker) (*Reader, error) {
	size, err := c.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("container: size: %w", err)
	}
	zr, err := zip.NewReader(chunkerReaderAt{ctx: ctx, c: c}, size)
	if err != nil {
		return nil, fmt.Errorf("container: open zip: %w", err)
	}

	r := &Reader{zr: zr}
	for _, f := range zr.File {
		switch f.Name {
		case PayloadEntryName:
			r.payload = f
		case ManifestEntryName:
			r.manifest = f
		}
	}
	if r.payload == nil || r.manifest == nil {
		return nil, ErrMissingEntry
	}
	return r, nil
}

// ManifestBytes reads and returns the full "0.manifest.json" entry. The
// manifest is small relative to the payload and is always read in full.
func (r *Reader) ManifestBytes() ([]byte, error) {
	rc, err := r.manifest.Open()
	if err != nil {
		return nil, fmt.Errorf("container: open manifest entry: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("container: read manifest entry: %w", err)
	}
	return data, nil
}

// PayloadSize returns the uncompressed size of the "0.payload" entry, as
// recorded in the ZIP directory.
func (r *Reader) PayloadSize() int64 {
	return int64(r.payload.UncompressedSize64)
}

// PayloadReader opens a streaming reader over the full "0.payload" entry,
// in container order from the start.
func (r *Reader) PayloadReader() (io.ReadCloser, error) {
	rc, err := r.payload.Open()
	if err != nil {
		return nil, fmt.Errorf("container: open payload entry: %w", err)
	}
	return rc, nil
}

// PayloadRange returns the payload entry's raw bytes in [start, end),
// decompressing (trivially, since entries are STORED) only the requested
// window. Because the entry is stored rather than deflated, this reads the
// entry's on-disk byte range directly via the chunker instead of streaming
// through zip's decompressor, which has no native random access.
func (r *Reader) PayloadRange(ctx context.Context, c chunker.Chunker, start, end int64) ([]byte, error) {
	dataOffset, err := r.payload.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("container: payload data offset: %w", err)
	}
	absStart := dataOffset + start
	absEnd := dataOffset + end
	return c.ReadRange(ctx, &absStart, &absEnd)
}
