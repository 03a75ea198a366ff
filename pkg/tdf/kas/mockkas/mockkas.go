// Package mockkas provides an in-memory KAS test double: an
// httptest.Server that implements the three KAS HTTP endpoints well enough
// to drive round-trip and failure-scenario tests without a real KAS
// deployment. It mirrors the role the teacher repository's in-memory
// MockSession/MaliciousSession play for testing MPC protocols without real
// network peers — here standing in for a KAS rather than a fellow party.
package mockkas

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/arkavo-org/go-tdf/pkg/tdf/crypto"
)

// Server is a fake KAS. By default it honestly unwraps rewrap requests with
// its configured private key; ForceStatus lets tests exercise
// the denial and failure scenarios from the specification's end-to-end
// test list.
type Server struct {
	priv *rsa.PrivateKey
	pub  []byte // PEM
	srv  *httptest.Server

	mu             sync.Mutex
	forceStatus    int
	upsertRequests int
}

// New starts a mock KAS backed by a freshly generated 2048-bit RSA key pair.
func New() (*Server, error) {
	priv, err := crypto.GenerateRSAKeyPair(2048)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	s := &Server{priv: priv, pub: pub}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/kas_public_key", s.handlePublicKey)
	mux.HandleFunc("/v2/rewrap", s.handleRewrap)
	mux.HandleFunc("/v2/upsert", s.handleUpsert)
	s.srv = httptest.NewServer(mux)
	return s, nil
}

// URL is the base URL of the mock KAS, suitable for use as a
// KeyAccessObject.URL.
func (s *Server) URL() string { return s.srv.URL }

// PrivateKey is the mock KAS's own RSA key, exposed so tests can wrap a
// payload key against it directly (as the writer/policy binder would).
func (s *Server) PrivateKey() *rsa.PrivateKey { return s.priv }

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() { s.srv.Close() }

// ForceStatus makes every subsequent request to this server fail with the
// given HTTP status, until cleared with ForceStatus(0). Used to exercise
// the policy-denial (403) and malformed-response (400) scenarios.
func (s *Server) ForceStatus(status int) {
	s.mu.Lock()
	s.forceStatus = status
	s.mu.Unlock()
}

// UpsertCount returns how many upsert requests this server has received.
func (s *Server) UpsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertRequests
}

func (s *Server) forcedStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceStatus
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if st := s.forcedStatus(); st != 0 {
		w.WriteHeader(st)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": string(s.pub)})
}

type signedTokenRequest struct {
	SignedRequestToken string `json:"signedRequestToken"`
}

type rewrapRequestBody struct {
	Algorithm       string          `json:"algorithm"`
	KeyAccess       json.RawMessage `json:"keyAccess"`
	Policy          string          `json:"policy"`
	ClientPublicKey string          `json:"clientPublicKey"`
}

func (s *Server) handleRewrap(w http.ResponseWriter, r *http.Request) {
	if st := s.forcedStatus(); st != 0 {
		w.WriteHeader(st)
		return
	}

	var req signedTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	claims, err := parseUnverifiedRequestBody(req.SignedRequestToken)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	clientPub, err := crypto.ParsePublicKeyPEM([]byte(claims.ClientPublicKey))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Honest KAS behavior: the rewrap response carries no cleartext payload
	// key in this mock because the writer wraps the payload key directly
	// under the mock KAS's own public key; the mock simply hands back a
	// key it can prove possession of by re-wrapping under the client's
	// session public key. Tests set KeyAccessObject.WrappedKey to the
	// payload key wrapped under PrivateKey()'s public half, so here we
	// unwrap with our own private key and re-wrap under clientPub.
	var kao struct {
		WrappedKey string `json:"wrappedKey"`
	}
	_ = json.Unmarshal(claims.KeyAccess, &kao)
	wrapped, err := base64.StdEncoding.DecodeString(kao.WrappedKey)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	payloadKey, err := crypto.RSAOAEPUnwrap(s.priv, wrapped, crypto.OAEPHashSHA1)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	entityWrapped, err := crypto.RSAOAEPWrap(clientPub, payloadKey, crypto.OAEPHashSHA1)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"entityWrappedKey": base64.StdEncoding.EncodeToString(entityWrapped),
	})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	if st := s.forcedStatus(); st != 0 {
		w.WriteHeader(st)
		return
	}
	s.mu.Lock()
	s.upsertRequests++
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// parseUnverifiedRequestBody extracts the requestBody claim from the
// signed request token without verifying its signature: the mock KAS only
// needs the claims to drive its fake rewrap, not to authenticate the
// caller.
func parseUnverifiedRequestBody(token string) (rewrapRequestBody, error) {
	var body rewrapRequestBody
	claims, err := decodeJWTPayload(token)
	if err != nil {
		return body, err
	}
	rb, _ := claims["requestBody"].(string)
	if err := json.Unmarshal([]byte(rb), &body); err != nil {
		return body, err
	}
	return body, nil
}
