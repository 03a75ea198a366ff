package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopAttachesNoHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://kas.example.com", nil)
	require.NoError(t, err)

	out, err := Noop{}.WithCreds(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, out.Header.Get("Authorization"))
}

func TestStaticAttachesBearerToken(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://kas.example.com", nil)
	require.NoError(t, err)

	out, err := Static{BearerToken: "tok123"}.WithCreds(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok123", out.Header.Get("Authorization"))
}

func TestUpdateClientPublicKeyIsANoopForBothProviders(t *testing.T) {
	require.NoError(t, Noop{}.UpdateClientPublicKey(context.Background(), nil, nil))
	require.NoError(t, Static{}.UpdateClientPublicKey(context.Background(), nil, nil))
}
