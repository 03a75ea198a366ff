// Package segment implements the segmented AEAD writer and reader: splitting
// a payload into fixed-size segments, encrypting/decrypting each under
// AES-256-GCM, and computing/verifying the per-segment and root integrity
// signatures. It is components C5 (writer) and C6 (reader).
package segment

import (
	"fmt"

	"github.com/arkavo-org/go-tdf/internal/logging"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

// Size limits per the specification's segment/byte-limit invariants.
const (
	SegmentSizeDefault = 1_000_000
	MinSegmentSize     = 16 * 1024
	MaxSegmentSize     = 4 * 1024 * 1024

	MaxSegments = 10_000

	MaxPayloadBytesZIP  = 64_000_000_000
	MaxPayloadBytesHTML = 100_000_000

	QueueSizeDefault = 4
)

// ProgressSink receives cumulative plaintext bytes processed after each
// segment commits. Invocation order is monotonically non-decreasing.
type ProgressSink func(processedBytes int64)

// Params configures a single Encrypt or Decrypt operation.
type Params struct {
	// SegmentSize is the default plaintext segment length. Zero selects
	// SegmentSizeDefault. Must be within [MinSegmentSize, MaxSegmentSize].
	SegmentSize int64
	// HashAlg selects the per-segment integrity algorithm: HS256 or GMAC.
	// Zero value selects HS256.
	HashAlg string
	// ByteLimit caps the total plaintext size Encrypt will accept. Zero
	// selects MaxPayloadBytesZIP.
	ByteLimit int64
	// QueueSize bounds how many segments may be encrypted concurrently.
	// Zero selects QueueSizeDefault.
	QueueSize int
	// Progress, if non-nil, is invoked after each segment commits.
	Progress ProgressSink
	// Logger receives integrity and cancellation events. Nil discards them.
	Logger logging.Logger
}

func (p Params) normalized() (Params, error) {
	out := p
	if out.SegmentSize == 0 {
		out.SegmentSize = SegmentSizeDefault
	}
	if out.SegmentSize < MinSegmentSize || out.SegmentSize > MaxSegmentSize {
		return out, fmt.Errorf("segment: segment size %d out of range [%d, %d]", out.SegmentSize, MinSegmentSize, MaxSegmentSize)
	}
	if out.HashAlg == "" {
		out.HashAlg = manifest.SegmentHashAlgHS256
	}
	if out.HashAlg != manifest.SegmentHashAlgHS256 && out.HashAlg != manifest.SegmentHashAlgGMAC {
		return out, fmt.Errorf("segment: unknown hash algorithm %q", out.HashAlg)
	}
	if out.ByteLimit == 0 {
		out.ByteLimit = MaxPayloadBytesZIP
	}
	if out.QueueSize <= 0 {
		out.QueueSize = QueueSizeDefault
	}
	if out.Logger == nil {
		out.Logger = logging.Nop()
	}
	return out, nil
}

// segmentHash computes the per-segment integrity tag over ciphertext per
// the selected algorithm.
func segmentHash(alg string, key, ciphertext []byte) ([]byte, error) {
	switch alg {
	case manifest.SegmentHashAlgGMAC:
		return crypto.GMACTag(key, ciphertext)
	default:
		return crypto.HMACSHA256(key, ciphertext), nil
	}
}
