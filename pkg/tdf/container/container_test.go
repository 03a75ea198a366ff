package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
)

func writeContainer(t *testing.T, payload, manifestJSON []byte) string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "out.tdf")

	w, err := Create(dest)
	require.NoError(t, err)

	pw, err := w.PayloadWriter()
	require.NoError(t, err)
	_, err = pw.Write(payload)
	require.NoError(t, err)

	require.NoError(t, w.WriteManifest(manifestJSON))
	require.NoError(t, w.Commit())

	return dest
}

func TestWriterThenReaderRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	manifestJSON := []byte(`{"hello":"manifest"}`)
	dest := writeContainer(t, payload, manifestJSON)

	fc, err := chunker.NewFileChunker(dest)
	require.NoError(t, err)
	defer fc.Close()

	r, err := Open(context.Background(), fc)
	require.NoError(t, err)

	gotManifest, err := r.ManifestBytes()
	require.NoError(t, err)
	require.Equal(t, manifestJSON, gotManifest)

	require.Equal(t, int64(len(payload)), r.PayloadSize())

	rc, err := r.PayloadReader()
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, len(payload))
	_, err = rc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}

func TestPayloadRangeReadsWithoutFullDownload(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	dest := writeContainer(t, payload, []byte(`{}`))

	fc, err := chunker.NewFileChunker(dest)
	require.NoError(t, err)
	defer fc.Close()

	ctx := context.Background()
	r, err := Open(ctx, fc)
	require.NoError(t, err)

	got, err := r.PayloadRange(ctx, fc, 100, 200)
	require.NoError(t, err)
	require.Equal(t, payload[100:200], got)
}

func TestOpenRejectsMissingEntries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bad.tdf")
	w, err := Create(dest)
	require.NoError(t, err)
	// Write only the payload entry, skip the manifest, and finalize the
	// archive by hand instead of through Commit.
	pw, err := w.PayloadWriter()
	require.NoError(t, err)
	_, err = pw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.zw.Close())
	require.NoError(t, w.tmpFile.Close())
	require.NoError(t, os.Rename(w.tmpFile.Name(), dest))

	fc, err := chunker.NewFileChunker(dest)
	require.NoError(t, err)
	defer fc.Close()

	_, err = Open(context.Background(), fc)
	require.ErrorIs(t, err, ErrMissingEntry)
}

func TestCommitFailureLeavesNoPartialFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "never.tdf")
	w, err := Create(dest)
	require.NoError(t, err)

	// Force a rename failure by removing the destination directory.
	require.NoError(t, os.RemoveAll(filepath.Dir(dest)))

	err = w.Commit()
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}
