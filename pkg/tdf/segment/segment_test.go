package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkavo-org/go-tdf/pkg/tdf/chunker"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
	"github.com/arkavo-org/go-tdf/pkg/tdf/policy"
)

// bufPayloadSource adapts an in-memory ciphertext buffer to PayloadSource.
type bufPayloadSource struct {
	data []byte
}

func (s *bufPayloadSource) ReadAt(_ context.Context, offset, length int64) ([]byte, error) {
	return append([]byte(nil), s.data[offset:offset+length]...), nil
}

func encryptToBuffer(t *testing.T, plaintext []byte, params Params) ([]byte, *manifest.IntegrityInformation, []byte) {
	t.Helper()
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	ii, err := Encrypt(context.Background(), chunker.NewBufferChunker(plaintext), key, &buf, params)
	require.NoError(t, err)
	return buf.Bytes(), ii, key
}

func buildManifest(ii *manifest.IntegrityInformation, key []byte) *manifest.Manifest {
	policyObj := policy.NewBuilder().Attribute("https://example.com/attr/a/value/1").Build()
	policyBase64, _ := policy.EncodeBase64(policyObj)
	binding := crypto.HMACSHA256(key, []byte(policyBase64))

	return &manifest.Manifest{
		Payload: manifest.Payload{Type: "reference", URL: "0.payload", Protocol: "zip", MimeType: "application/octet-stream", IsEncrypted: true},
		EncryptionInformation: manifest.EncryptionInformation{
			Type: manifest.EncryptionInformationTypeSplit,
			KeyAccess: []manifest.KeyAccessObject{{
				Type:          manifest.KeyAccessTypeWrapped,
				URL:           "https://kas.example.com",
				Protocol:      manifest.KeyAccessProtocolKAS,
				WrappedKey:    "unused-in-this-test",
				PolicyBinding: base64.StdEncoding.EncodeToString(binding),
			}},
			Method:               manifest.EncryptionMethod{Algorithm: "AES-256-GCM"},
			IntegrityInformation: *ii,
			Policy:               policyBase64,
		},
	}
}

func TestEncryptDecryptTinyPayloadRoundTrip(t *testing.T) {
	plaintext := []byte("hello world")
	ct, ii, key := encryptToBuffer(t, plaintext, Params{})

	require.Len(t, ii.Segments, 1)
	require.Equal(t, int64(11), ii.Segments[0].SegmentSize)
	require.Equal(t, int64(39), ii.Segments[0].EncryptedSegmentSize)

	mf := buildManifest(ii, key)
	r, err := Open(mf, key, &bufPayloadSource{data: ct}, nil)
	require.NoError(t, err)

	got, err := r.DecryptRange(context.Background(), 0, int64(len(plaintext)))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEncryptDecryptTwoSegmentPayload(t *testing.T) {
	plaintext := make([]byte, 1_500_000)
	ct, ii, key := encryptToBuffer(t, plaintext, Params{SegmentSize: 1_000_000})

	require.Len(t, ii.Segments, 2)
	require.Equal(t, int64(1_000_000), ii.Segments[0].SegmentSize)
	require.Equal(t, int64(500_000), ii.Segments[1].SegmentSize)

	mf := buildManifest(ii, key)
	r, err := Open(mf, key, &bufPayloadSource{data: ct}, nil)
	require.NoError(t, err)

	got, err := r.DecryptRange(context.Background(), 999_990, 1_000_010)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 20), got)
}

func TestTamperedCiphertextFailsBeforeEmittingPlaintext(t *testing.T) {
	plaintext := make([]byte, 1_500_000)
	ct, ii, key := encryptToBuffer(t, plaintext, Params{SegmentSize: 1_000_000})

	tampered := append([]byte(nil), ct...)
	tampered[100_000] ^= 0xFF

	mf := buildManifest(ii, key)
	r, err := Open(mf, key, &bufPayloadSource{data: tampered}, nil)
	require.NoError(t, err)

	_, err = r.DecryptRange(context.Background(), 0, int64(len(plaintext)))
	require.Error(t, err)
	var segErr *Error
	require.ErrorAs(t, err, &segErr)
	require.Equal(t, KindCrypto, segErr.Kind)
	require.Equal(t, 0, segErr.SegmentIndex)
}

func TestPolicyTamperFailsBindingVerification(t *testing.T) {
	plaintext := []byte("hello world")
	ct, ii, key := encryptToBuffer(t, plaintext, Params{})
	mf := buildManifest(ii, key)

	otherPolicy := policy.NewBuilder().Attribute("https://example.com/attr/a/value/2").Build()
	otherPolicyBase64, err := policy.EncodeBase64(otherPolicy)
	require.NoError(t, err)
	mf.EncryptionInformation.Policy = otherPolicyBase64

	_, err = Open(mf, key, &bufPayloadSource{data: ct}, nil)
	require.Error(t, err)
	var segErr *Error
	require.ErrorAs(t, err, &segErr)
	require.Equal(t, KindPolicy, segErr.Kind)
}

func TestRangeReassemblyAcrossRandomRanges(t *testing.T) {
	src := rand.New(rand.NewSource(42))
	plaintext := make([]byte, 10_000_000)
	_, _ = src.Read(plaintext)

	ct, ii, key := encryptToBuffer(t, plaintext, Params{SegmentSize: 256 * 1024})
	mf := buildManifest(ii, key)
	r, err := Open(mf, key, &bufPayloadSource{data: ct}, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		a := int64(src.Intn(len(plaintext)))
		b := a + int64(src.Intn(len(plaintext)-int(a))+1)
		got, err := r.DecryptRange(context.Background(), a, b)
		require.NoError(t, err)
		require.Equal(t, plaintext[a:b], got)
	}
}

func TestSegmentCountLimitEnforced(t *testing.T) {
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)
	plaintext := make([]byte, (MaxSegments+1)*MinSegmentSize)
	var buf bytes.Buffer
	_, err = Encrypt(context.Background(), chunker.NewBufferChunker(plaintext), key, &buf, Params{SegmentSize: MinSegmentSize})
	require.Error(t, err)
}

// blockingChunker signals on started the moment a ReadRange call begins,
// then blocks until ctx is canceled and returns ctx.Err() — used to
// exercise cancellation while a segment read is already in flight.
type blockingChunker struct {
	size    int64
	started chan struct{}
}

func (c *blockingChunker) Size(context.Context) (int64, error) { return c.size, nil }

func (c *blockingChunker) ReadRange(ctx context.Context, _, _ *int64) ([]byte, error) {
	c.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEncryptCancellationYieldsAborted(t *testing.T) {
	key, err := crypto.GeneratePayloadKey()
	require.NoError(t, err)

	src := &blockingChunker{size: MinSegmentSize * 2, started: make(chan struct{}, 2)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	errCh := make(chan error, 1)
	go func() {
		_, err := Encrypt(ctx, src, key, &buf, Params{SegmentSize: MinSegmentSize})
		errCh <- err
	}()

	<-src.started
	cancel()

	err = <-errCh
	require.Error(t, err)
	var segErr *Error
	require.ErrorAs(t, err, &segErr)
	require.Equal(t, KindAborted, segErr.Kind)
}

// blockingPayloadSource mirrors blockingChunker for the reader side.
type blockingPayloadSource struct {
	started chan struct{}
}

func (s *blockingPayloadSource) ReadAt(ctx context.Context, _, _ int64) ([]byte, error) {
	s.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDecryptRangeCancellationYieldsAborted(t *testing.T) {
	plaintext := make([]byte, 1_500_000)
	_, ii, key := encryptToBuffer(t, plaintext, Params{SegmentSize: 1_000_000})
	mf := buildManifest(ii, key)

	src := &blockingPayloadSource{started: make(chan struct{}, 1)}
	r, err := Open(mf, key, src, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := r.DecryptRange(ctx, 0, int64(len(plaintext)))
		errCh <- err
	}()

	<-src.started
	cancel()

	err = <-errCh
	require.Error(t, err)
	var segErr *Error
	require.ErrorAs(t, err, &segErr)
	require.Equal(t, KindAborted, segErr.Kind)
}

func TestDecryptAllStreamsInOrder(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, many times over")
	ct, ii, key := encryptToBuffer(t, plaintext, Params{SegmentSize: MinSegmentSize})
	mf := buildManifest(ii, key)
	r, err := Open(mf, key, &bufPayloadSource{data: ct}, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, r.DecryptAll(context.Background(), &out))
	require.Equal(t, plaintext, out.Bytes())
}
