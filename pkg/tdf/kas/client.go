// Package kas implements the Key Access Server client: assembling, signing
// and sending rewrap/upsert requests, parsing responses, and caching KAS
// public keys. It is the rewrap protocol half of the TDF3 engine (component
// C7), mirroring the teacher repository's long-lived peer-transport shape
// (examples/tlsnet.Transport) adapted from a persistent mTLS channel
// between MPC parties to a request/response HTTP channel against a KAS.
package kas

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/arkavo-org/go-tdf/internal/logging"
	"github.com/arkavo-org/go-tdf/pkg/tdf/auth"
	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
	"github.com/arkavo-org/go-tdf/pkg/tdf/manifest"
)

// Client talks to one or more KAS endpoints on behalf of a single tdf
// Client session. It caches each KAS's public key by URL; a cache entry
// never expires within the process, but is invalidated and re-fetched once
// if a rewrap attributable to a stale key fails.
type Client struct {
	httpClient *http.Client
	auth       auth.Provider
	signing    *crypto.SigningKeyPair
	log        logging.Logger

	mu        sync.Mutex
	pubKeys   map[string]*rsa.PublicKey
	pubKeyPEM map[string]string
}

// New returns a KAS client bound to the given session signing key and
// credential provider. If httpClient is nil, http.DefaultClient is used. If
// log is nil, logging is discarded.
func New(httpClient *http.Client, authProvider auth.Provider, signing *crypto.SigningKeyPair, log logging.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if authProvider == nil {
		authProvider = auth.Noop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		httpClient: httpClient,
		auth:       authProvider,
		signing:    signing,
		log:        log,
		pubKeys:    make(map[string]*rsa.PublicKey),
		pubKeyPEM:  make(map[string]string),
	}
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
	KID       string `json:"kid,omitempty"`
}

// PublicKey returns the cached RSA public key for kasURL, fetching and
// caching it on first use via GET {kasURL}/v2/kas_public_key?algorithm=rsa:2048.
func (c *Client) PublicKey(ctx context.Context, kasURL string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	if pk, ok := c.pubKeys[kasURL]; ok {
		c.mu.Unlock()
		return pk, nil
	}
	c.mu.Unlock()
	return c.fetchAndCachePublicKey(ctx, kasURL)
}

func (c *Client) fetchAndCachePublicKey(ctx context.Context, kasURL string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, kasURL+"/v2/kas_public_key?algorithm=rsa:2048", nil)
	if err != nil {
		return nil, &Error{Op: "PublicKey", Reason: ReasonMalformed, Err: err}
	}

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "PublicKey", Reason: ReasonNetwork, Err: err}
	}
	if err := statusToError("PublicKey", resp.StatusCode); err != nil {
		return nil, err
	}

	pemText := body
	var decoded publicKeyResponse
	if json.Unmarshal(body, &decoded) == nil && decoded.PublicKey != "" {
		pemText = []byte(decoded.PublicKey)
	}

	pub, err := crypto.ParsePublicKeyPEM(pemText)
	if err != nil {
		return nil, &Error{Op: "PublicKey", Reason: ReasonMalformed, Err: err}
	}

	c.mu.Lock()
	c.pubKeys[kasURL] = pub
	c.pubKeyPEM[kasURL] = string(pemText)
	c.mu.Unlock()
	return pub, nil
}

// invalidatePublicKey drops a cached key so the next PublicKey call
// re-fetches it. Used exactly once, after a rewrap failure that might be
// attributable to a stale cached key.
func (c *Client) invalidatePublicKey(kasURL string) {
	c.mu.Lock()
	delete(c.pubKeys, kasURL)
	delete(c.pubKeyPEM, kasURL)
	c.mu.Unlock()
}

// rewrapRequestBody is the JSON embedded (as a string) in the signed
// request token's "requestBody" claim.
type rewrapRequestBody struct {
	Algorithm       string                   `json:"algorithm"`
	KeyAccess       manifest.KeyAccessObject `json:"keyAccess"`
	Policy          string                   `json:"policy"`
	ClientPublicKey string                   `json:"clientPublicKey"`
}

type rewrapHTTPRequest struct {
	SignedRequestToken string `json:"signedRequestToken"`
}

type rewrapHTTPResponse struct {
	EntityWrappedKey string          `json:"entityWrappedKey"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Rewrap performs the rewrap protocol against kao.URL: it builds and signs
// a request token binding the KAO, the policy, and the session public key,
// POSTs it, and RSA-OAEP-unwraps the returned entityWrappedKey under the
// session private key to recover the payload key.
func (c *Client) Rewrap(ctx context.Context, kao manifest.KeyAccessObject, policyBase64 string) (payloadKey []byte, metadata []byte, err error) {
	c.log.Debug(ctx, "kas rewrap request", "url", kao.URL)
	payloadKey, metadata, err = c.rewrapOnce(ctx, kao, policyBase64)
	var kerr *Error
	if err != nil && errors.As(err, &kerr) && kerr.Reason == ReasonCryptoFailure {
		// Possibly a stale cached KAS key; invalidate and retry exactly once.
		c.log.Warn(ctx, "kas rewrap crypto failure, retrying with refreshed key", "url", kao.URL)
		c.invalidatePublicKey(kao.URL)
		payloadKey, metadata, err = c.rewrapOnce(ctx, kao, policyBase64)
	}
	if err != nil {
		c.log.Error(ctx, "kas rewrap failed", "url", kao.URL, "err", err)
		return payloadKey, metadata, err
	}
	c.log.Debug(ctx, "kas rewrap succeeded", "url", kao.URL, logging.Redacted("payloadKey"))
	return payloadKey, metadata, err
}

func (c *Client) rewrapOnce(ctx context.Context, kao manifest.KeyAccessObject, policyBase64 string) ([]byte, []byte, error) {
	clientPubPEM, err := c.signing.PublicKeyPEM()
	if err != nil {
		return nil, nil, &Error{Op: "Rewrap", Reason: ReasonMalformed, Err: err}
	}

	body := rewrapRequestBody{
		Algorithm:       "RS256",
		KeyAccess:       kao,
		Policy:          policyBase64,
		ClientPublicKey: string(clientPubPEM),
	}
	token, err := c.signRequestToken(body)
	if err != nil {
		return nil, nil, &Error{Op: "Rewrap", Reason: ReasonMalformed, Err: err}
	}

	resp, err := c.post(ctx, kao.URL+"/v2/rewrap", rewrapHTTPRequest{SignedRequestToken: token})
	if err != nil {
		return nil, nil, err
	}

	var parsed rewrapHTTPResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, nil, &Error{Op: "Rewrap", Reason: ReasonMalformed, Err: err}
	}

	wrapped, err := base64.StdEncoding.DecodeString(parsed.EntityWrappedKey)
	if err != nil {
		return nil, nil, &Error{Op: "Rewrap", Reason: ReasonMalformed, Err: err}
	}

	payloadKey, err := crypto.RSAOAEPUnwrap(c.signing.Private, wrapped, crypto.OAEPHashSHA1)
	if err != nil {
		return nil, nil, &Error{Op: "Rewrap", Reason: ReasonCryptoFailure, Err: err}
	}

	return payloadKey, parsed.Metadata, nil
}

// Upsert stores a wrapped key out-of-band for a "remote" KeyAccessObject.
// The response schema is not enforced (spec open question): success is
// purely 2xx/non-2xx, and the raw body is returned for caller inspection.
func (c *Client) Upsert(ctx context.Context, kao manifest.KeyAccessObject, policyBase64 string) (raw []byte, err error) {
	c.log.Debug(ctx, "kas upsert request", "url", kao.URL)
	clientPubPEM, err := c.signing.PublicKeyPEM()
	if err != nil {
		return nil, &Error{Op: "Upsert", Reason: ReasonMalformed, Err: err}
	}
	body := rewrapRequestBody{
		Algorithm:       "RS256",
		KeyAccess:       kao,
		Policy:          policyBase64,
		ClientPublicKey: string(clientPubPEM),
	}
	token, err := c.signRequestToken(body)
	if err != nil {
		return nil, &Error{Op: "Upsert", Reason: ReasonMalformed, Err: err}
	}
	raw, err = c.post(ctx, kao.URL+"/v2/upsert", rewrapHTTPRequest{SignedRequestToken: token})
	if err != nil {
		c.log.Error(ctx, "kas upsert failed", "url", kao.URL, "err", err)
		return nil, err
	}
	return raw, nil
}

func (c *Client) signRequestToken(body rewrapRequestBody) (string, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}
	claims := jwt.MapClaims{"requestBody": string(bodyJSON)}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.signing.Private)
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "post", Reason: ReasonMalformed, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, &Error{Op: "post", Reason: ReasonMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	decorated, err := c.auth.WithCreds(ctx, req)
	if err != nil {
		return nil, &Error{Op: "post", Reason: ReasonUnauthorized, Err: err}
	}
	if decorated.Header.Get("Authorization") != "" {
		c.log.Debug(ctx, "attached request credentials", "url", url, logging.Redacted("authorization"))
	}

	resp, err := c.doWithRetry(ctx, decorated)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "post", Reason: ReasonNetwork, Err: err}
	}
	if err := statusToError("post", resp.StatusCode); err != nil {
		return nil, err
	}
	return respBody, nil
}

// doWithRetry performs req, retrying only transport-level errors and 5xx
// responses with exponential backoff, up to 3 attempts. 4xx responses are
// returned immediately without retry: rewrap is not idempotent at the
// policy layer, so a denial must never be retried.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var policy backoff.BackOff = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	policy = backoff.WithContext(policy, ctx)

	var resp *http.Response
	op := func() error {
		r, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			return &Error{Op: "do", Reason: ReasonNetwork, Err: err}
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return &Error{Op: "do", Reason: ReasonNetwork, Err: fmt.Errorf("transient status %d", r.StatusCode)}
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

func statusToError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &Error{Op: op, Reason: ReasonUnauthorized, Err: fmt.Errorf("http %d", status)}
	case status == http.StatusForbidden:
		return &Error{Op: op, Reason: ReasonForbidden, Err: fmt.Errorf("http %d", status)}
	case status == http.StatusNotFound:
		return &Error{Op: op, Reason: ReasonNotFound, Err: fmt.Errorf("http %d", status)}
	case status == http.StatusBadRequest:
		return &Error{Op: op, Reason: ReasonMalformed, Err: fmt.Errorf("http %d", status)}
	default:
		return &Error{Op: op, Reason: ReasonNetwork, Err: fmt.Errorf("http %d", status)}
	}
}
