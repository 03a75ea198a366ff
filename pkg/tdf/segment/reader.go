package segment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/arkavo-org/go-tdf/internal/logging"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
	"github.com/arkavo-org/go-tdf/pkg/tdf/policy"
)

// PayloadSource is the ciphertext-side random-access capability a Reader
// decrypts against: the container's "0.payload" entry, addressed by
// ciphertext byte offset.
type PayloadSource interface {
	ReadAt(ctx context.Context, offset, length int64) ([]byte, error)
}

// Reader verifies manifest-level integrity once at Open and then decrypts
// segments on demand, either by plaintext range or as a single ordered
// stream. A Reader is poisoned on the first integrity failure: every
// subsequent call returns the same error.
type Reader struct {
	mf         *manifest.Manifest
	key        []byte
	src        PayloadSource
	offsets    []int64 // ciphertext start offset of each segment
	plainStart []int64 // plaintext start offset of each segment
	log        logging.Logger

	mu     sync.Mutex
	poison error
}

// Open verifies every KAO's policy binding and the manifest's root
// signature against payloadKey before returning a Reader. This must
// succeed before any plaintext is decrypted — per the specification, a
// policy-binding or root-signature mismatch must be surfaced before any
// segment is touched. If log is nil, integrity events are discarded.
func Open(mf *manifest.Manifest, payloadKey []byte, src PayloadSource, log logging.Logger) (*Reader, error) {
	if log == nil {
		log = logging.Nop()
	}
	policyBase64 := mf.EncryptionInformation.Policy
	for _, kao := range mf.EncryptionInformation.KeyAccess {
		if err := policy.VerifyBinding(kao, payloadKey, policyBase64); err != nil {
			log.Error(context.Background(), "policy binding verification failed", "url", kao.URL, "err", err)
			return nil, &Error{Kind: KindPolicy, Op: "Open", SegmentIndex: -1, Err: err}
		}
	}

	segs := mf.EncryptionInformation.IntegrityInformation.Segments
	hashes := make([][]byte, len(segs))
	offsets := make([]int64, len(segs))
	plainStart := make([]int64, len(segs))
	var cOff, pOff int64
	for i, s := range segs {
		h, err := base64.StdEncoding.DecodeString(s.Hash)
		if err != nil {
			return nil, &Error{Kind: KindCrypto, Op: "Open", SegmentIndex: i, Err: fmt.Errorf("decode segment hash: %w", err)}
		}
		hashes[i] = h
		offsets[i] = cOff
		plainStart[i] = pOff
		cOff += s.EncryptedSegmentSize
		pOff += s.SegmentSize
	}

	concat := make([]byte, 0, len(hashes)*sha256Size)
	for _, h := range hashes {
		concat = append(concat, h...)
	}
	wantRoot, err := base64.StdEncoding.DecodeString(mf.EncryptionInformation.IntegrityInformation.RootSignature.Sig)
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "Open", SegmentIndex: -1, Err: fmt.Errorf("decode root signature: %w", err)}
	}
	gotRoot := crypto.HMACSHA256(payloadKey, concat)
	if !crypto.HMACEqual(wantRoot, gotRoot) {
		log.Error(context.Background(), "root signature mismatch")
		return nil, &Error{Kind: KindCrypto, Op: "Open", SegmentIndex: -1, Err: fmt.Errorf("root signature mismatch")}
	}

	return &Reader{
		mf:         mf,
		key:        payloadKey,
		src:        src,
		offsets:    offsets,
		plainStart: plainStart,
		log:        log,
	}, nil
}

func (r *Reader) poisoned() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poison
}

func (r *Reader) setPoison(err error) error {
	r.mu.Lock()
	if r.poison == nil {
		r.poison = err
	}
	r.mu.Unlock()
	return err
}

// fail logs segErr and poisons the Reader with it.
func (r *Reader) fail(ctx context.Context, segErr *Error) error {
	if segErr.Kind == KindAborted {
		r.log.Warn(ctx, "segment decrypt aborted", "segment", segErr.SegmentIndex, "err", segErr.Err)
	} else {
		r.log.Error(ctx, "segment integrity failure", "segment", segErr.SegmentIndex, "kind", string(segErr.Kind), "err", segErr.Err)
	}
	return r.setPoison(segErr)
}

// PlaintextSize returns the total plaintext length described by the
// manifest.
func (r *Reader) PlaintextSize() int64 {
	segs := r.mf.EncryptionInformation.IntegrityInformation.Segments
	if len(segs) == 0 {
		return 0
	}
	last := len(segs) - 1
	return r.plainStart[last] + segs[last].SegmentSize
}

// decryptSegment fetches, verifies, and decrypts segment i, returning its
// plaintext. Any failure poisons the Reader.
func (r *Reader) decryptSegment(ctx context.Context, i int) ([]byte, error) {
	segs := r.mf.EncryptionInformation.IntegrityInformation.Segments
	seg := segs[i]

	ct, err := r.src.ReadAt(ctx, r.offsets[i], seg.EncryptedSegmentSize)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, r.fail(ctx, &Error{Kind: KindAborted, Op: "Decrypt", SegmentIndex: i, Err: err})
		}
		return nil, r.fail(ctx, &Error{Kind: KindCrypto, Op: "Decrypt", SegmentIndex: i, Err: err})
	}

	alg := r.mf.EncryptionInformation.IntegrityInformation.SegmentHashAlg.Name
	gotHash, err := segmentHash(alg, r.key, ct)
	if err != nil {
		return nil, r.fail(ctx, &Error{Kind: KindCrypto, Op: "Decrypt", SegmentIndex: i, Err: err})
	}
	wantHash, err := base64.StdEncoding.DecodeString(seg.Hash)
	if err != nil {
		return nil, r.fail(ctx, &Error{Kind: KindCrypto, Op: "Decrypt", SegmentIndex: i, Err: err})
	}
	if !crypto.HMACEqual(wantHash, gotHash) {
		return nil, r.fail(ctx, &Error{Kind: KindCrypto, Op: "Decrypt", SegmentIndex: i, Err: fmt.Errorf("segment hash mismatch")})
	}

	pt, err := crypto.GCMDecryptSegment(r.key, ct)
	if err != nil {
		return nil, r.fail(ctx, &Error{Kind: KindCrypto, Op: "Decrypt", SegmentIndex: i, Err: err})
	}
	return pt, nil
}

// segmentRangeFor returns the inclusive range of segment indices covering
// plaintext [lo, hi).
func (r *Reader) segmentRangeFor(lo, hi int64) (first, last int) {
	segs := r.mf.EncryptionInformation.IntegrityInformation.Segments
	first = 0
	for i := range segs {
		if r.plainStart[i] <= lo {
			first = i
		} else {
			break
		}
	}
	last = first
	for i := first; i < len(segs); i++ {
		last = i
		if r.plainStart[i]+segs[i].SegmentSize >= hi {
			break
		}
	}
	return first, last
}

// DecryptRange returns plaintext[lo:hi], decrypting and verifying only the
// segments that overlap the requested window.
func (r *Reader) DecryptRange(ctx context.Context, lo, hi int64) ([]byte, error) {
	if err := r.poisoned(); err != nil {
		return nil, err
	}
	size := r.PlaintextSize()
	if lo < 0 || hi > size || hi < lo {
		return nil, &Error{Kind: KindCrypto, Op: "DecryptRange", SegmentIndex: -1, Err: fmt.Errorf("range [%d,%d) out of bounds [0,%d)", lo, hi, size)}
	}
	if lo == hi {
		return []byte{}, nil
	}

	first, last := r.segmentRangeFor(lo, hi)
	out := make([]byte, 0, hi-lo)
	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(ctx, &Error{Kind: KindAborted, Op: "DecryptRange", SegmentIndex: i, Err: err})
		}
		pt, err := r.decryptSegment(ctx, i)
		if err != nil {
			return nil, err
		}
		segStart := r.plainStart[i]
		segEnd := segStart + int64(len(pt))
		winLo := max64(lo, segStart)
		winHi := min64(hi, segEnd)
		out = append(out, pt[winLo-segStart:winHi-segStart]...)
	}
	return out, nil
}

// DecryptAll streams the full plaintext to w, segment by segment in
// increasing offset order, with at most one segment's plaintext and
// ciphertext resident at a time. On the first integrity failure the
// Reader is poisoned and the error is returned; bytes already written to
// w before the failure are not retracted, so callers must treat w as
// poisoned too once an error is returned.
func (r *Reader) DecryptAll(ctx context.Context, w io.Writer) error {
	if err := r.poisoned(); err != nil {
		return err
	}
	segs := r.mf.EncryptionInformation.IntegrityInformation.Segments
	for i := range segs {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, &Error{Kind: KindAborted, Op: "DecryptAll", SegmentIndex: i, Err: err})
		}
		pt, err := r.decryptSegment(ctx, i)
		if err != nil {
			return err
		}
		if _, err := w.Write(pt); err != nil {
			return r.fail(ctx, &Error{Kind: KindCrypto, Op: "DecryptAll", SegmentIndex: i, Err: err})
		}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
