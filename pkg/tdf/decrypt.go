package tdf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
	"github.com/arkavo-org/go-tdf/pkg/tdf/container"
	"github.com/arkavo-org/go-tdf/pkg/tdf/kas"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
	"github.com/arkavo-org/go-tdf/pkg/tdf/segment"
)

// DecryptParams configures a single Decrypt call.
type DecryptParams struct {
	// Source backs the container: a chunker over the on-disk or remote
	// .tdf file.
	Source chunker.Chunker
	// KASURL selects which KeyAccessObject to rewrap against when the
	// manifest carries more than one. Empty selects the first.
	KASURL string
}

// Reader exposes the decrypted plaintext of an opened TDF3 container. Its
// manifest-level integrity (policy bindings, root signature) has already
// been verified by the time Decrypt returns one.
type Reader struct {
	mf  *manifest.Manifest
	seg *segment.Reader
}

// Manifest returns the container's parsed manifest.
func (r *Reader) Manifest() *manifest.Manifest { return r.mf }

// PlaintextSize returns the total decrypted payload length.
func (r *Reader) PlaintextSize() int64 { return r.seg.PlaintextSize() }

// DecryptRange returns plaintext[lo:hi], verifying only the segments that
// overlap the requested window.
func (r *Reader) DecryptRange(ctx context.Context, lo, hi int64) ([]byte, error) {
	data, err := r.seg.DecryptRange(ctx, lo, hi)
	if err != nil {
		return nil, wrapSegmentErr("Decrypt.DecryptRange", err)
	}
	return data, nil
}

// DecryptAll streams the full plaintext to w in order.
func (r *Reader) DecryptAll(ctx context.Context, w io.Writer) error {
	if err := r.seg.DecryptAll(ctx, w); err != nil {
		return wrapSegmentErr("Decrypt.DecryptAll", err)
	}
	return nil
}

// containerPayloadSource adapts a container.Reader's payload entry to
// segment.PayloadSource, addressing ciphertext by offset within the
// payload entry (not within the container as a whole).
type containerPayloadSource struct {
	cr *container.Reader
	c  chunker.Chunker
}

func (s *containerPayloadSource) ReadAt(ctx context.Context, offset, length int64) ([]byte, error) {
	return s.cr.PayloadRange(ctx, s.c, offset, offset+length)
}

// Decrypt opens a TDF3 container, performs the rewrap protocol against the
// selected KAS to recover the payload key, and returns a Reader once every
// policy binding and the root signature have verified. No plaintext is
// decrypted before these checks succeed.
func (c *Client) Decrypt(ctx context.Context, p DecryptParams) (*Reader, error) {
	cr, err := container.Open(ctx, p.Source)
	if err != nil {
		return nil, wrap("Decrypt", KindContainer, err)
	}

	mfBytes, err := cr.ManifestBytes()
	if err != nil {
		return nil, wrap("Decrypt", KindContainer, err)
	}
	mf, err := manifest.Decode(mfBytes)
	if err != nil {
		return nil, wrap("Decrypt", KindManifest, err)
	}

	kao, err := selectKAO(mf, p.KASURL)
	if err != nil {
		return nil, wrap("Decrypt", KindConfig, err)
	}

	payloadKey, _, err := c.kas.Rewrap(ctx, *kao, mf.EncryptionInformation.Policy)
	if err != nil {
		return nil, wrapKasErr("Decrypt", err)
	}

	src := &containerPayloadSource{cr: cr, c: p.Source}
	segReader, err := segment.Open(mf, payloadKey, src, c.cfg.Logger)
	if err != nil {
		return nil, wrapSegmentErr("Decrypt", err)
	}

	return &Reader{mf: mf, seg: segReader}, nil
}

func selectKAO(mf *manifest.Manifest, url string) (*manifest.KeyAccessObject, error) {
	kaos := mf.EncryptionInformation.KeyAccess
	if len(kaos) == 0 {
		return nil, fmt.Errorf("manifest has no keyAccess entries")
	}
	if url == "" {
		return &kaos[0], nil
	}
	for i := range kaos {
		if kaos[i].URL == url {
			return &kaos[i], nil
		}
	}
	return nil, fmt.Errorf("no keyAccess entry for KAS URL %q", url)
}

func wrapKasErr(op string, err error) error {
	var kerr *kas.Error
	if errors.As(err, &kerr) {
		kind := KindKas
		return &Error{Op: op, Kind: kind, Err: kerr}
	}
	return wrap(op, KindKas, err)
}
