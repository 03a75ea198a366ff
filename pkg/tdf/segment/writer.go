package segment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/arkavo-org/go-tdf/internal/logging"
	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

type segResult struct {
	ciphertext []byte
	hash       []byte
	plainSize  int64
}

// Encrypt reads src in order, splits it into segments per params, encrypts
// each with key, and writes the ciphertext segments to dst in ascending
// plaintext-offset order. Segment encryption may run up to params.QueueSize
// at once, but commits to dst and to the returned IntegrityInformation only
// in order — parallelism is never observable. Returns the manifest
// integrity block describing the written segments and root signature.
func Encrypt(ctx context.Context, src chunker.Chunker, key []byte, dst io.Writer, params Params) (*manifest.IntegrityInformation, error) {
	params, err := params.normalized()
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: -1, Err: err}
	}

	size, err := src.Size(ctx)
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: -1, Err: err}
	}
	if size > params.ByteLimit {
		return nil, &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: -1, Err: errByteLimitExceeded(size, params.ByteLimit)}
	}

	numSegs := int(size / params.SegmentSize)
	if size%params.SegmentSize != 0 || numSegs == 0 {
		numSegs++
	}
	if numSegs > MaxSegments {
		return nil, &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: -1, Err: errSegmentCountExceeded(numSegs)}
	}
	params.Logger.Debug(ctx, "encrypting payload", "segments", numSegs, "segmentSize", params.SegmentSize, logging.Redacted("payloadKey"))

	done := make([]chan segResult, numSegs)
	for i := range done {
		done[i] = make(chan segResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(params.QueueSize)

	go func() {
		for i := 0; i < numSegs; i++ {
			if gctx.Err() != nil {
				return
			}
			idx := i
			g.Go(func() error {
				start := int64(idx) * params.SegmentSize
				end := start + params.SegmentSize
				if end > size {
					end = size
				}
				pt, err := src.ReadRange(gctx, &start, &end)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return &Error{Kind: KindAborted, Op: "Encrypt", SegmentIndex: idx, Err: err}
					}
					return &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: idx, Err: err}
				}
				ct, err := crypto.GCMEncryptSegment(key, pt)
				if err != nil {
					return &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: idx, Err: err}
				}
				hash, err := segmentHash(params.HashAlg, key, ct)
				if err != nil {
					return &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: idx, Err: err}
				}
				done[idx] <- segResult{ciphertext: ct, hash: hash, plainSize: int64(len(pt))}
				return nil
			})
		}
	}()

	segments := make([]manifest.Segment, 0, numSegs)
	hashes := make([][]byte, 0, numSegs)
	var processed int64

	commitErr := func() error {
		for i := 0; i < numSegs; i++ {
			select {
			case r := <-done[i]:
				if _, err := dst.Write(r.ciphertext); err != nil {
					params.Logger.Error(ctx, "segment write failed", "segment", i, "err", err)
					return &Error{Kind: KindCrypto, Op: "Encrypt", SegmentIndex: i, Err: err}
				}
				segments = append(segments, manifest.Segment{
					Hash:                 base64.StdEncoding.EncodeToString(r.hash),
					SegmentSize:          r.plainSize,
					EncryptedSegmentSize: int64(len(r.ciphertext)),
				})
				hashes = append(hashes, r.hash)
				processed += r.plainSize
				if params.Progress != nil {
					params.Progress(processed)
				}
			case <-gctx.Done():
				params.Logger.Warn(ctx, "segment encryption aborted", "segment", i, "err", gctx.Err())
				return &Error{Kind: KindAborted, Op: "Encrypt", SegmentIndex: i, Err: gctx.Err()}
			}
		}
		return nil
	}()

	if waitErr := g.Wait(); waitErr != nil {
		return nil, waitErr
	}
	if commitErr != nil {
		return nil, commitErr
	}

	concat := make([]byte, 0, len(hashes)*sha256Size)
	for _, h := range hashes {
		concat = append(concat, h...)
	}
	rootSig := crypto.HMACSHA256(key, concat)

	return &manifest.IntegrityInformation{
		RootSignature: manifest.RootSignature{
			Alg: "HS256",
			Sig: base64.StdEncoding.EncodeToString(rootSig),
		},
		SegmentHashAlg:              manifest.SegmentHashAlg{Name: params.HashAlg},
		SegmentSizeDefault:          params.SegmentSize,
		EncryptedSegmentSizeDefault: params.SegmentSize + int64(crypto.GCMIVSize+crypto.GCMTagSize),
		Segments:                    segments,
	}, nil
}

const sha256Size = 32

func errSegmentCountExceeded(n int) error {
	return fmt.Errorf("segment count %d exceeds the maximum of %d", n, MaxSegments)
}

func errByteLimitExceeded(size, limit int64) error {
	return fmt.Errorf("payload size %d exceeds the configured byte limit of %d", size, limit)
}
