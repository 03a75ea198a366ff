// Package tdf is the root of the TDF3 container engine client library: it
// wires the crypto, chunker, container, manifest, segment, policy, auth,
// and kas packages into the two top-level operations, Encrypt and Decrypt.
package tdf

import (
	"context"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/kas"
)

// Client is a configured TDF3 session: one RSA signing key pair used to
// authenticate rewrap/upsert requests to every KAS it talks to, live for
// the Client's lifetime.
type Client struct {
	cfg     Config
	signing *crypto.SigningKeyPair
	kas     *kas.Client
}

// New constructs a Client from a frozen Config, generating a fresh session
// signing key pair and registering its public half with the configured
// AuthProvider.
func New(ctx context.Context, cfg Config) (*Client, error) {
	signing, err := crypto.NewSigningKeyPair(cfg.SigningKeyBits)
	if err != nil {
		return nil, wrap("New", KindCrypto, err)
	}

	pub, err := signing.PublicKeyPEM()
	if err != nil {
		return nil, wrap("New", KindCrypto, err)
	}
	if err := cfg.AuthProvider.UpdateClientPublicKey(ctx, pub, signing); err != nil {
		return nil, wrap("New", KindConfig, err)
	}

	kasClient := kas.New(cfg.HTTPClient, cfg.AuthProvider, signing, cfg.Logger)

	return &Client{cfg: cfg, signing: signing, kas: kasClient}, nil
}

// SigningPublicKeyPEM returns this Client's session public key, PEM-encoded.
func (c *Client) SigningPublicKeyPEM() ([]byte, error) {
	return c.signing.PublicKeyPEM()
}
