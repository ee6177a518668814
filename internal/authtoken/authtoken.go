// Package authtoken verifies Ed25519-signed JWT bearer tokens presented to
// the protected run-trigger endpoints, as an alternative to the shared
// X-Ingest-Token secret.
package authtoken

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks bearer tokens against a single Ed25519 public key. It
// never issues tokens; RAGMap trusts an external issuer.
type Verifier struct {
	publicKey ed25519.PublicKey
}

// NewVerifier loads an Ed25519 public key from a PEM file. An empty path
// disables verification entirely; callers should treat a nil, nil return
// as "no JWT mode configured".
func NewVerifier(publicKeyPath string) (*Verifier, error) {
	if publicKeyPath == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(publicKeyPath) //nolint:gosec // path comes from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("authtoken: read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("authtoken: decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("authtoken: parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("authtoken: public key is not Ed25519")
	}
	return &Verifier{publicKey: pub}, nil
}

// Valid reports whether the Authorization header carries a bearer token
// signed by the configured key and not expired.
func (v *Verifier) Valid(r *http.Request) bool {
	if v == nil {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("authtoken: unexpected signing method %v", t.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	return err == nil
}
