package policy

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

// Target describes one KAS a payload key should be bound to.
type Target struct {
	URL       string
	PublicKey *rsa.PublicKey

	// Remote selects the "remote" KeyAccessObject mode: the wrapped key is
	// upserted to KAS out-of-band and omitted from the manifest. Offline
	// mode ("wrapped", the default) embeds the wrapped key inline.
	Remote bool
}

// Upserter is the subset of kas.Client a Binder needs for the remote-KAO
// path. Satisfied by *kas.Client.
type Upserter interface {
	Upsert(ctx context.Context, kao manifest.KeyAccessObject, policyBase64 string) ([]byte, error)
}

// Binder wraps a payload key for one or more KAS targets and produces the
// manifest's key-access array, per component C8.
type Binder struct {
	OAEPHash crypto.OAEPHash
}

// Bind produces the KeyAccessObject array for policyObj and payloadKey
// against targets. metadata, if non-nil, is AES-256-GCM encrypted under
// payloadKey and attached to every KAO as encryptedMetadata. For Remote
// targets, upserter.Upsert is called to store the wrapped key out-of-band;
// upserter may be nil only if no target is Remote.
func (b *Binder) Bind(ctx context.Context, policyObj Object, payloadKey []byte, targets []Target, metadata []byte, upserter Upserter) ([]manifest.KeyAccessObject, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("policy: at least one KAS target is required")
	}

	policyBase64, err := EncodeBase64(policyObj)
	if err != nil {
		return nil, err
	}
	binding := base64.StdEncoding.EncodeToString(crypto.HMACSHA256(payloadKey, []byte(policyBase64)))

	var encryptedMetadata string
	if len(metadata) > 0 {
		ct, iv, err := crypto.GCMEncryptMetadata(payloadKey, metadata)
		if err != nil {
			return nil, fmt.Errorf("policy: encrypt metadata: %w", err)
		}
		tagStart := len(ct) - crypto.GCMTagSize
		bundle := struct {
			Ciphertext string `json:"ciphertext"`
			IV         string `json:"iv"`
			Tag        string `json:"tag"`
		}{
			Ciphertext: base64.StdEncoding.EncodeToString(ct[:tagStart]),
			IV:         base64.StdEncoding.EncodeToString(iv),
			Tag:        base64.StdEncoding.EncodeToString(ct[tagStart:]),
		}
		bundleJSON, err := json.Marshal(bundle)
		if err != nil {
			return nil, err
		}
		encryptedMetadata = base64.StdEncoding.EncodeToString(bundleJSON)
	}

	kaos := make([]manifest.KeyAccessObject, 0, len(targets))
	for _, t := range targets {
		kao := manifest.KeyAccessObject{
			URL:               t.URL,
			Protocol:          manifest.KeyAccessProtocolKAS,
			PolicyBinding:     binding,
			EncryptedMetadata: encryptedMetadata,
		}

		wrapped, err := crypto.RSAOAEPWrap(t.PublicKey, payloadKey, b.OAEPHash)
		if err != nil {
			return nil, fmt.Errorf("policy: wrap payload key for %s: %w", t.URL, err)
		}

		if t.Remote {
			kao.Type = manifest.KeyAccessTypeRemote
			upsertKAO := kao
			upsertKAO.WrappedKey = base64.StdEncoding.EncodeToString(wrapped)
			if upserter == nil {
				return nil, fmt.Errorf("policy: remote target %s requires an upserter", t.URL)
			}
			if _, err := upserter.Upsert(ctx, upsertKAO, policyBase64); err != nil {
				return nil, fmt.Errorf("policy: upsert to %s: %w", t.URL, err)
			}
		} else {
			kao.Type = manifest.KeyAccessTypeWrapped
			kao.WrappedKey = base64.StdEncoding.EncodeToString(wrapped)
		}

		kaos = append(kaos, kao)
	}

	return kaos, nil
}

// VerifyBinding checks a single KAO's policyBinding against payloadKey and
// the policy's canonical base64 bytes, constant-time.
func VerifyBinding(kao manifest.KeyAccessObject, payloadKey []byte, policyBase64 string) error {
	want := crypto.HMACSHA256(payloadKey, []byte(policyBase64))
	got, err := base64.StdEncoding.DecodeString(kao.PolicyBinding)
	if err != nil {
		return fmt.Errorf("policy: decode policyBinding: %w", err)
	}
	if !crypto.HMACEqual(want, got) {
		return fmt.Errorf("policy: binding mismatch")
	}
	return nil
}
