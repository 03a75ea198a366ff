package tdf

import (
	"net/http"

	"github.com/arkavo-org/go-tdf/internal/logging"
	"github.com/arkavo-org/go-tdf/pkg/tdf/auth"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
	"github.com/arkavo-org/go-tdf/pkg/tdf/segment"
)

// Config is the immutable, validated configuration for a Client. Build one
// with Builder and Freeze; Config itself carries no behavior and is safe to
// share across goroutines.
type Config struct {
	HTTPClient   *http.Client
	AuthProvider auth.Provider
	Logger       logging.Logger

	OAEPHash    crypto.OAEPHash
	SegmentSize int64
	HashAlg     string
	QueueSize   int
	ByteLimit   int64

	SigningKeyBits int
}

// Builder assembles a Config through explicit setter calls in any order;
// Freeze validates and fills in defaults, returning an immutable Config.
// This replaces a fluent chained-setter shape with one that has no
// chaining requirement: every setter may be called zero or more times,
// and only Freeze's result is ever passed to New.
type Builder struct {
	cfg Config
}

// NewBuilder returns an empty Builder. Every field defaults at Freeze time.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.cfg.HTTPClient = c
	return b
}

func (b *Builder) WithAuthProvider(p auth.Provider) *Builder {
	b.cfg.AuthProvider = p
	return b
}

func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.cfg.Logger = l
	return b
}

func (b *Builder) WithOAEPHash(h crypto.OAEPHash) *Builder {
	b.cfg.OAEPHash = h
	return b
}

func (b *Builder) WithSegmentSize(n int64) *Builder {
	b.cfg.SegmentSize = n
	return b
}

func (b *Builder) WithHashAlg(alg string) *Builder {
	b.cfg.HashAlg = alg
	return b
}

func (b *Builder) WithQueueSize(n int) *Builder {
	b.cfg.QueueSize = n
	return b
}

func (b *Builder) WithByteLimit(n int64) *Builder {
	b.cfg.ByteLimit = n
	return b
}

func (b *Builder) WithSigningKeyBits(n int) *Builder {
	b.cfg.SigningKeyBits = n
	return b
}

// Freeze validates the accumulated settings and returns a Config with
// every optional field defaulted.
func (b *Builder) Freeze() (Config, error) {
	cfg := b.cfg

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.AuthProvider == nil {
		cfg.AuthProvider = auth.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = segment.SegmentSizeDefault
	}
	if cfg.SegmentSize < segment.MinSegmentSize || cfg.SegmentSize > segment.MaxSegmentSize {
		return Config{}, errorf("Builder.Freeze", KindConfig, "segment size %d out of range [%d, %d]", cfg.SegmentSize, segment.MinSegmentSize, segment.MaxSegmentSize)
	}
	if cfg.HashAlg == "" {
		cfg.HashAlg = manifest.SegmentHashAlgHS256
	}
	if cfg.HashAlg != manifest.SegmentHashAlgHS256 && cfg.HashAlg != manifest.SegmentHashAlgGMAC {
		return Config{}, errorf("Builder.Freeze", KindConfig, "unknown segment hash algorithm %q", cfg.HashAlg)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = segment.QueueSizeDefault
	}
	if cfg.ByteLimit == 0 {
		cfg.ByteLimit = segment.MaxPayloadBytesZIP
	}
	if cfg.SigningKeyBits == 0 {
		cfg.SigningKeyBits = 2048
	}
	if cfg.SigningKeyBits < 2048 {
		return Config{}, errorf("Builder.Freeze", KindConfig, "signing key size %d is below the 2048-bit minimum", cfg.SigningKeyBits)
	}

	return cfg, nil
}
