// Package auth declares the interface the tdf client consumes to decorate
// outbound KAS requests with credentials. Concrete providers (OIDC
// refresh-token exchange, external-JWT exchange, DPoP) are external
// collaborators outside this core — only their shape is specified here,
// matching the "out of scope" boundary in the specification.
package auth

import (
	"context"
	"net/http"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
)

// Provider decorates outbound HTTP requests with credentials and is
// notified once, at Client construction, of the session signing key it
// should bind future tokens/proofs to. Breaking the natural
// Client<->Provider cycle this way — passing the decorating capability by
// value to the KAS client, and pushing the session key into the provider
// once — avoids a reference cycle between the two (see spec design notes).
type Provider interface {
	// WithCreds returns req decorated with an Authorization header and,
	// for DPoP-enabled providers, a DPoP header bound to the request's
	// method, URL, and a fresh nonce, signed by the session signing key.
	WithCreds(ctx context.Context, req *http.Request) (*http.Request, error)

	// UpdateClientPublicKey rebinds the provider's issued tokens (and, for
	// DPoP, its proof signing) to the given session public key. Called
	// once per Client, at construction.
	UpdateClientPublicKey(ctx context.Context, clientPublicKeyPEM []byte, signing *crypto.SigningKeyPair) error
}

// Noop is a Provider that attaches no credentials. It exists for tests and
// for KAS deployments that authenticate purely at the transport layer
// (e.g. mTLS).
type Noop struct{}

func (Noop) WithCreds(_ context.Context, req *http.Request) (*http.Request, error) {
	return req, nil
}

func (Noop) UpdateClientPublicKey(context.Context, []byte, *crypto.SigningKeyPair) error {
	return nil
}

// Static attaches a fixed bearer token to every request. Useful for tests
// and for simple service-to-service deployments where the caller manages
// token refresh itself.
type Static struct {
	BearerToken string
}

func (s Static) WithCreds(_ context.Context, req *http.Request) (*http.Request, error) {
	req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	return req, nil
}

func (Static) UpdateClientPublicKey(context.Context, []byte, *crypto.SigningKeyPair) error {
	return nil
}
