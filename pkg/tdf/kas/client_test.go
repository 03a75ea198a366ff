package kas

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/kas/mockkas"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

func TestPublicKeyFetchesAndCaches(t *testing.T) {
	mk, err := mockkas.New()
	require.NoError(t, err)
	defer mk.Close()

	signing, err := crypto.NewSigningKeyPair(2048)
	require.NoError(t, err)
	c := New(nil, nil, signing, nil)

	pub1, err := c.PublicKey(context.Background(), mk.URL())
	require.NoError(t, err)
	require.NotNil(t, pub1)

	pub2, err := c.PublicKey(context.Background(), mk.URL())
	require.NoError(t, err)
	require.Equal(t, pub1, pub2)
}

func TestRewrapRecoversPayloadKey(t *testing.T) {
	mk, err := mockkas.New()
	require.NoError(t, err)
	defer mk.Close()

	signing, err := crypto.NewSigningKeyPair(2048)
	require.NoError(t, err)
	c := New(nil, nil, signing, nil)

	payloadKey, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)
	wrapped, err := crypto.RSAOAEPWrap(&mk.PrivateKey().PublicKey, payloadKey, crypto.OAEPHashSHA1)
	require.NoError(t, err)

	kao := manifest.KeyAccessObject{
		Type:       manifest.KeyAccessTypeWrapped,
		URL:        mk.URL(),
		Protocol:   manifest.KeyAccessProtocolKAS,
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
	}

	got, _, err := c.Rewrap(context.Background(), kao, "ZmFrZXBvbGljeQ==")
	require.NoError(t, err)
	require.Equal(t, payloadKey, got)
}

func TestRewrapSurfacesForbiddenWithoutRetry(t *testing.T) {
	mk, err := mockkas.New()
	require.NoError(t, err)
	defer mk.Close()
	mk.ForceStatus(403)

	signing, err := crypto.NewSigningKeyPair(2048)
	require.NoError(t, err)
	c := New(nil, nil, signing, nil)

	kao := manifest.KeyAccessObject{URL: mk.URL(), Protocol: manifest.KeyAccessProtocolKAS}
	_, _, err = c.Rewrap(context.Background(), kao, "cG9saWN5")
	require.Error(t, err)

	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, ReasonForbidden, kerr.Reason)
	require.False(t, kerr.Retryable())
}

func TestUpsertIncrementsServerCounter(t *testing.T) {
	mk, err := mockkas.New()
	require.NoError(t, err)
	defer mk.Close()

	signing, err := crypto.NewSigningKeyPair(2048)
	require.NoError(t, err)
	c := New(nil, nil, signing, nil)

	kao := manifest.KeyAccessObject{URL: mk.URL(), Protocol: manifest.KeyAccessProtocolKAS}
	_, err = c.Upsert(context.Background(), kao, "cG9saWN5")
	require.NoError(t, err)
	require.Equal(t, 1, mk.UpsertCount())
}
