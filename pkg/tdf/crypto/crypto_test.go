package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	tdfcrypto "github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
)

func TestGCMSegmentRoundTrip(t *testing.T) {
	key, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)

	plaintext := []byte("hello world")
	ct, err := tdfcrypto.GCMEncryptSegment(key, plaintext)
	require.NoError(t, err)
	require.Len(t, ct, tdfcrypto.GCMIVSize+len(plaintext)+tdfcrypto.GCMTagSize)

	pt, err := tdfcrypto.GCMDecryptSegment(key, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestGCMSegmentTamperDetected(t *testing.T) {
	key, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)

	ct, err := tdfcrypto.GCMEncryptSegment(key, []byte("0123456789abcdef"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0x01

	_, err = tdfcrypto.GCMDecryptSegment(key, tampered)
	require.Error(t, err)
}

func TestRSAOAEPWrapUnwrapRoundTrip(t *testing.T) {
	priv, err := tdfcrypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	payloadKey, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)

	wrapped, err := tdfcrypto.RSAOAEPWrap(&priv.PublicKey, payloadKey, tdfcrypto.OAEPHashSHA1)
	require.NoError(t, err)

	unwrapped, err := tdfcrypto.RSAOAEPUnwrap(priv, wrapped, tdfcrypto.OAEPHashSHA1)
	require.NoError(t, err)
	require.Equal(t, payloadKey, unwrapped)
}

func TestRSASignVerifyPKCS1SHA256(t *testing.T) {
	priv, err := tdfcrypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	message := []byte(`{"requestBody":"..."}`)
	sig, err := tdfcrypto.RSASignPKCS1SHA256(priv, message)
	require.NoError(t, err)
	require.NoError(t, tdfcrypto.RSAVerifyPKCS1SHA256(&priv.PublicKey, message, sig))

	require.Error(t, tdfcrypto.RSAVerifyPKCS1SHA256(&priv.PublicKey, []byte("tampered"), sig))
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	priv, err := tdfcrypto.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	pemBytes, err := tdfcrypto.EncodePublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	pub, err := tdfcrypto.ParsePublicKeyPEM(pemBytes)
	require.NoError(t, err)
	require.Equal(t, priv.PublicKey.N, pub.N)
}

func TestHMACRootSignature(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	h1 := tdfcrypto.HMACSHA256(key, []byte("segment-hash-1"))
	h2 := tdfcrypto.HMACSHA256(key, []byte("segment-hash-1"))
	require.True(t, tdfcrypto.HMACEqual(h1, h2))

	h3 := tdfcrypto.HMACSHA256(key, []byte("segment-hash-2"))
	require.False(t, tdfcrypto.HMACEqual(h1, h3))
}

func TestGMACTagDeterministicPerKeyAndData(t *testing.T) {
	key, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)

	data := []byte("ciphertext-segment-bytes")
	tag1, err := tdfcrypto.GMACTag(key, data)
	require.NoError(t, err)
	tag2, err := tdfcrypto.GMACTag(key, data)
	require.NoError(t, err)
	require.Equal(t, tag1, tag2)

	otherKey, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)
	tag3, err := tdfcrypto.GMACTag(otherKey, data)
	require.NoError(t, err)
	require.NotEqual(t, tag1, tag3)
}

func TestMetadataEncryptDecryptRoundTrip(t *testing.T) {
	key, err := tdfcrypto.GeneratePayloadKey()
	require.NoError(t, err)

	ct, iv, err := tdfcrypto.GCMEncryptMetadata(key, []byte(`{"displayName":"doc.pdf"}`))
	require.NoError(t, err)

	pt, err := tdfcrypto.GCMDecryptMetadata(key, iv, ct)
	require.NoError(t, err)
	require.JSONEq(t, `{"displayName":"doc.pdf"}`, string(pt))
}
