package policy

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

func TestBuilderBuildAssignsUUIDAndFields(t *testing.T) {
	p := NewBuilder().
		Attribute("https://example.com/attr/classification/value/secret").
		Dissem("alice@example.com", "bob@example.com").
		Build()

	require.NotEqual(t, uuid.Nil, p.UUID)
	require.Len(t, p.Body.DataAttributes, 1)
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, p.Body.Dissem)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	p := NewBuilder().Attribute("https://example.com/attr/a/value/1").Build()
	data, err := Marshal(p)
	require.NoError(t, err)

	p2, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, p, p2)
}

func TestEncodeBase64IsStableAcrossCalls(t *testing.T) {
	p := NewBuilder().Attribute("https://example.com/attr/a/value/1").Build()
	a, err := EncodeBase64(p)
	require.NoError(t, err)
	b, err := EncodeBase64(p)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

type fakeUpserter struct {
	calls int
}

func (f *fakeUpserter) Upsert(context.Context, manifest.KeyAccessObject, string) ([]byte, error) {
	f.calls++
	return []byte(`{"status":"ok"}`), nil
}

func TestBindProducesOneKAOPerTargetWithSharedBinding(t *testing.T) {
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)

	priv1, err := crypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)
	priv2, err := crypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	pol := NewBuilder().Attribute("https://example.com/attr/a/value/1").Build()
	b := &Binder{OAEPHash: crypto.OAEPHashSHA1}

	kaos, err := b.Bind(context.Background(), pol, key, []Target{
		{URL: "https://kas1.example.com", PublicKey: &priv1.PublicKey},
		{URL: "https://kas2.example.com", PublicKey: &priv2.PublicKey},
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, kaos, 2)
	require.Equal(t, kaos[0].PolicyBinding, kaos[1].PolicyBinding)
	require.NotEqual(t, kaos[0].WrappedKey, kaos[1].WrappedKey)

	policyBase64, err := EncodeBase64(pol)
	require.NoError(t, err)
	for _, kao := range kaos {
		require.NoError(t, VerifyBinding(kao, key, policyBase64))
	}
}

func TestBindRemoteTargetCallsUpserterAndOmitsWrappedKey(t *testing.T) {
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)
	priv, err := crypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	pol := NewBuilder().Build()
	b := &Binder{OAEPHash: crypto.OAEPHashSHA1}
	up := &fakeUpserter{}

	kaos, err := b.Bind(context.Background(), pol, key, []Target{
		{URL: "https://kas.example.com", PublicKey: &priv.PublicKey, Remote: true},
	}, nil, up)
	require.NoError(t, err)
	require.Equal(t, 1, up.calls)
	require.Equal(t, manifest.KeyAccessTypeRemote, kaos[0].Type)
	require.Empty(t, kaos[0].WrappedKey)
}

func TestVerifyBindingRejectsWrongKey(t *testing.T) {
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)
	other, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)

	pol := NewBuilder().Build()
	policyBase64, err := EncodeBase64(pol)
	require.NoError(t, err)

	binding := crypto.HMACSHA256(key, []byte(policyBase64))
	kao := manifest.KeyAccessObject{PolicyBinding: base64.StdEncoding.EncodeToString(binding)}

	require.Error(t, VerifyBinding(kao, other, policyBase64))
}
