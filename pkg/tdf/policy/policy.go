// Package policy builds TDF policy objects and, together with payload key
// material, the manifest's key-access array (the policy binder / key-access
// builder, component C8). Policy attributes are expressed through a small
// fluent builder rather than assembled as raw maps, mirroring the
// expression-builder shape the teacher repository uses for its own
// access-control structures (pkg/cbmpc/accessstructure: Leaf/And/Or/
// Threshold) — flattened here into TDF's flat dataAttributes/dissem arrays,
// since a TDF policy has no boolean gate composition to preserve.
package policy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Attribute is a single data attribute URI bound to a policy, e.g.
// "https://example.com/attr/classification/value/secret".
type Attribute struct {
	Attribute string `json:"attribute"`
}

// Body is the policy's payload: the attributes the data carries and the
// identities it may be disseminated to.
type Body struct {
	DataAttributes []Attribute `json:"dataAttributes"`
	Dissem         []string    `json:"dissem"`
}

// Object is a complete TDF policy: a stable identifier plus its body. Once
// a payload has been encrypted under it, an Object must not be mutated —
// the manifest captures only its serialized bytes.
type Object struct {
	UUID uuid.UUID `json:"uuid"`
	Body Body      `json:"body"`
}

// Builder assembles a policy.Object. Each setter returns the Builder so
// calls may be chained, but chaining is not required — see Config's
// Builder/Freeze pattern in the parent package for the same choice.
type Builder struct {
	attrs  []Attribute
	dissem []string
}

// NewBuilder returns an empty policy Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Attribute adds a single data attribute URI to the policy under
// construction.
func (b *Builder) Attribute(uri string) *Builder {
	b.attrs = append(b.attrs, Attribute{Attribute: uri})
	return b
}

// Dissem adds one or more dissemination identities (email addresses, user
// IDs) to the policy under construction.
func (b *Builder) Dissem(ids ...string) *Builder {
	b.dissem = append(b.dissem, ids...)
	return b
}

// Build finalizes the policy, assigning it a fresh random UUID.
func (b *Builder) Build() Object {
	return Object{
		UUID: uuid.New(),
		Body: Body{
			DataAttributes: append([]Attribute(nil), b.attrs...),
			Dissem:         append([]string(nil), b.dissem...),
		},
	}
}

// Marshal serializes the policy object to its canonical JSON bytes.
func Marshal(p Object) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal: %w", err)
	}
	return data, nil
}

// EncodeBase64 base64-encodes the policy JSON for embedding in the
// manifest's encryptionInformation.policy field. The returned string is the
// canonical signing input for every KAO's policyBinding and must be stored
// and reused verbatim, never recomputed from a re-marshaled policy.
func EncodeBase64(p Object) (string, error) {
	data, err := Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Unmarshal parses policy JSON bytes back into an Object.
func Unmarshal(data []byte) (Object, error) {
	var p Object
	if err := json.Unmarshal(data, &p); err != nil {
		return Object{}, fmt.Errorf("policy: unmarshal: %w", err)
	}
	return p, nil
}
