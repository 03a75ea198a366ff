package tdf

import (
	"context"
	"crypto/rsa"
	"errors"

	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
	"github.com/arkavo-org/go-tdf/pkg/tdf/container"
	tdfcrypto "github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
	"github.com/arkavo-org/go-tdf/pkg/tdf/policy"
	"github.com/arkavo-org/go-tdf/pkg/tdf/segment"
)

// KASTarget names one KAS the payload key should be bound to.
type KASTarget struct {
	URL       string
	PublicKey *rsa.PublicKey
	// Remote selects the "remote" KAO mode (wrapped key upserted to KAS,
	// omitted from the manifest) instead of the default "wrapped" mode.
	Remote bool
}

// EncryptParams configures a single Encrypt call.
type EncryptParams struct {
	// Source is read once, start to end, to produce the payload.
	Source chunker.Chunker
	// DestPath is where the finished container is written. Encrypt writes
	// to a temp file beside it and renames into place on success.
	DestPath string
	MimeType string

	Policy  policy.Object
	Targets []KASTarget

	// Metadata, if non-nil, is encrypted under the payload key and
	// attached to every KeyAccessObject.
	Metadata []byte

	// PayloadKey, if non-nil, is used instead of generating a fresh one.
	// Exists for deterministic tests; production callers should leave it
	// nil.
	PayloadKey []byte

	Progress segment.ProgressSink
}

// Encrypt streams Source into a new TDF3 container at DestPath: it splits
// the plaintext into segments, encrypts each, wraps the payload key for
// every target KAS, and assembles and writes the manifest. No partial
// container is left at DestPath on any failure or cancellation.
func (c *Client) Encrypt(ctx context.Context, p EncryptParams) (err error) {
	if len(p.Targets) == 0 {
		return errorf("Encrypt", KindConfig, "at least one KAS target is required")
	}

	key := p.PayloadKey
	if key == nil {
		key, err = tdfcrypto.GeneratePayloadKey()
		if err != nil {
			return wrap("Encrypt", KindCrypto, err)
		}
	}
	defer tdfcrypto.ZeroizeBytes(key)

	w, err := container.Create(p.DestPath)
	if err != nil {
		return wrap("Encrypt", KindContainer, err)
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()

	pw, err := w.PayloadWriter()
	if err != nil {
		return wrap("Encrypt", KindContainer, err)
	}

	segParams := segment.Params{
		SegmentSize: c.cfg.SegmentSize,
		HashAlg:     c.cfg.HashAlg,
		ByteLimit:   c.cfg.ByteLimit,
		QueueSize:   c.cfg.QueueSize,
		Progress:    p.Progress,
		Logger:      c.cfg.Logger,
	}
	ii, err := segment.Encrypt(ctx, p.Source, key, pw, segParams)
	if err != nil {
		return wrapSegmentErr("Encrypt", err)
	}

	targets := make([]policy.Target, len(p.Targets))
	for i, t := range p.Targets {
		targets[i] = policy.Target{URL: t.URL, PublicKey: t.PublicKey, Remote: t.Remote}
	}
	binder := &policy.Binder{OAEPHash: c.cfg.OAEPHash}
	kaos, err := binder.Bind(ctx, p.Policy, key, targets, p.Metadata, c.kas)
	if err != nil {
		return wrap("Encrypt", KindPolicy, err)
	}

	policyBase64, err := policy.EncodeBase64(p.Policy)
	if err != nil {
		return wrap("Encrypt", KindPolicy, err)
	}

	mf := &manifest.Manifest{
		Payload: manifest.Payload{
			Type:        "reference",
			URL:         container.PayloadEntryName,
			Protocol:    "zip",
			MimeType:    p.MimeType,
			IsEncrypted: true,
		},
		EncryptionInformation: manifest.EncryptionInformation{
			Type:                 manifest.EncryptionInformationTypeSplit,
			KeyAccess:            kaos,
			Method:               manifest.EncryptionMethod{Algorithm: "AES-256-GCM"},
			IntegrityInformation: *ii,
			Policy:               policyBase64,
		},
	}

	mfBytes, err := manifest.Encode(mf)
	if err != nil {
		return wrap("Encrypt", KindManifest, err)
	}
	if err := w.WriteManifest(mfBytes); err != nil {
		return wrap("Encrypt", KindContainer, err)
	}
	if err := w.Commit(); err != nil {
		return wrap("Encrypt", KindContainer, err)
	}
	committed = true

	return nil
}

func wrapSegmentErr(op string, err error) error {
	var segErr *segment.Error
	if errors.As(err, &segErr) {
		kind := KindCrypto
		switch segErr.Kind {
		case segment.KindPolicy:
			kind = KindPolicy
		case segment.KindAborted:
			kind = KindAborted
		}
		return &Error{Op: op, Kind: kind, Err: segErr}
	}
	return wrap(op, KindCrypto, err)
}
