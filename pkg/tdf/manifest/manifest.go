// Package manifest is the typed model and strict codec for a TDF3
// manifest: the JSON document describing how a payload was segmented,
// encrypted, and bound to a policy via one or more Key Access Objects.
//
// Decode rejects unknown top-level keys and reports missing required
// fields as a typed *Error naming the field, rather than silently
// accepting a zero value. The literal bytes of
// EncryptionInformation.Policy are preserved verbatim for use as the
// canonical signing input — they are never re-marshaled.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Error is a typed manifest parse/validation failure naming the offending field.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest: field %q: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Payload describes the container's payload entry.
type Payload struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Protocol    string `json:"protocol"`
	MimeType    string `json:"mimeType"`
	IsEncrypted bool   `json:"isEncrypted"`
}

// KeyAccessObject binds the payload key to one KAS entry under one policy.
type KeyAccessObject struct {
	Type              string `json:"type"`
	URL               string `json:"url"`
	Protocol          string `json:"protocol"`
	WrappedKey        string `json:"wrappedKey,omitempty"`
	PolicyBinding     string `json:"policyBinding"`
	EncryptedMetadata string `json:"encryptedMetadata,omitempty"`
	KID               string `json:"kid,omitempty"`
}

const (
	KeyAccessTypeWrapped = "wrapped"
	KeyAccessTypeRemote  = "remote"
	KeyAccessProtocolKAS = "kas"
)

// EncryptionMethod names the payload segment cipher.
type EncryptionMethod struct {
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
}

// RootSignature authenticates the whole ordered set of segment hashes.
type RootSignature struct {
	Alg string `json:"alg"`
	Sig string `json:"sig"`
}

// SegmentHashAlg names the per-segment integrity algorithm: HS256 or GMAC.
type SegmentHashAlg struct {
	Name string `json:"name"`
}

const (
	SegmentHashAlgHS256 = "HS256"
	SegmentHashAlgGMAC  = "GMAC"
)

// Segment describes one encrypted contiguous chunk of the payload.
type Segment struct {
	Hash               string `json:"hash"`
	SegmentSize        int64  `json:"segmentSize"`
	EncryptedSegmentSize int64 `json:"encryptedSegmentSize"`
}

// IntegrityInformation carries the root signature, the segment integrity
// algorithm choice, the default segment sizes, and the ordered segment array.
type IntegrityInformation struct {
	RootSignature               RootSignature  `json:"rootSignature"`
	SegmentHashAlg               SegmentHashAlg `json:"segmentHashAlg"`
	SegmentSizeDefault           int64          `json:"segmentSizeDefault"`
	EncryptedSegmentSizeDefault  int64          `json:"encryptedSegmentSizeDefault"`
	Segments                     []Segment      `json:"segments"`
}

// EncryptionInformation is the "split" key-access scheme used by TDF3.
type EncryptionInformation struct {
	Type                 string                `json:"type"`
	KeyAccess            []KeyAccessObject     `json:"keyAccess"`
	Method               EncryptionMethod      `json:"method"`
	IntegrityInformation IntegrityInformation  `json:"integrityInformation"`

	// Policy holds the literal base64 text of the policy JSON exactly as it
	// appeared on the wire. It must never be re-marshaled: HMAC computations
	// over the policy are defined over these exact bytes (the canonical
	// signing form), not over a re-encoded equivalent.
	Policy string `json:"policy"`
}

const EncryptionInformationTypeSplit = "split"

// Manifest is the full .manifest.json document.
type Manifest struct {
	Payload               Payload               `json:"payload"`
	EncryptionInformation EncryptionInformation `json:"encryptionInformation"`
}

// Decode strictly parses manifest JSON: unknown top-level (and nested)
// fields are rejected, and missing required fields are reported as a typed
// *Error naming the field.
func Decode(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, &Error{Field: "<root>", Err: err}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Payload.URL == "" {
		return &Error{Field: "payload.url", Err: errRequired}
	}
	if m.Payload.Protocol == "" {
		return &Error{Field: "payload.protocol", Err: errRequired}
	}
	ei := &m.EncryptionInformation
	if ei.Type == "" {
		return &Error{Field: "encryptionInformation.type", Err: errRequired}
	}
	if len(ei.KeyAccess) == 0 {
		return &Error{Field: "encryptionInformation.keyAccess", Err: errRequired}
	}
	for i, ka := range ei.KeyAccess {
		if ka.Type == "" {
			return &Error{Field: fmt.Sprintf("encryptionInformation.keyAccess[%d].type", i), Err: errRequired}
		}
		if ka.PolicyBinding == "" {
			return &Error{Field: fmt.Sprintf("encryptionInformation.keyAccess[%d].policyBinding", i), Err: errRequired}
		}
		if ka.Type == KeyAccessTypeWrapped && ka.WrappedKey == "" {
			return &Error{Field: fmt.Sprintf("encryptionInformation.keyAccess[%d].wrappedKey", i), Err: errRequired}
		}
	}
	if ei.Method.Algorithm == "" {
		return &Error{Field: "encryptionInformation.method.algorithm", Err: errRequired}
	}
	ii := &ei.IntegrityInformation
	if ii.RootSignature.Sig == "" {
		return &Error{Field: "encryptionInformation.integrityInformation.rootSignature.sig", Err: errRequired}
	}
	if ii.SegmentHashAlg.Name == "" {
		return &Error{Field: "encryptionInformation.integrityInformation.segmentHashAlg.name", Err: errRequired}
	}
	if len(ii.Segments) == 0 {
		return &Error{Field: "encryptionInformation.integrityInformation.segments", Err: errRequired}
	}
	if ei.Policy == "" {
		return &Error{Field: "encryptionInformation.policy", Err: errRequired}
	}
	return nil
}

var errRequired = fmt.Errorf("required field is missing or empty")

// Encode serializes the manifest to canonical JSON bytes.
func Encode(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}
