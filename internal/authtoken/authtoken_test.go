package authtoken_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalidsaidi/ragmap/internal/authtoken"
)

func writePublicKeyPEM(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}

	path := filepath.Join(t.TempDir(), "ed25519_pub.pem")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, block))
	return path
}

func signToken(t *testing.T, priv ed25519.PrivateKey, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestNewVerifierDisabledWhenPathEmpty(t *testing.T) {
	v, err := authtoken.NewVerifier("")
	require.NoError(t, err)
	assert.Nil(t, v)

	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer anything")
	assert.False(t, v.Valid(req))
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePublicKeyPEM(t, pub)

	v, err := authtoken.NewVerifier(path)
	require.NoError(t, err)
	require.NotNil(t, v)

	token := signToken(t, priv, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.True(t, v.Valid(req))
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePublicKeyPEM(t, pub)

	v, err := authtoken.NewVerifier(path)
	require.NoError(t, err)

	token := signToken(t, priv, time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.False(t, v.Valid(req))
}

func TestVerifierRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePublicKeyPEM(t, otherPub)

	v, err := authtoken.NewVerifier(path)
	require.NoError(t, err)

	token := signToken(t, priv, time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.False(t, v.Valid(req))
}

func TestVerifierRejectsMissingHeader(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	path := writePublicKeyPEM(t, pub)

	v, err := authtoken.NewVerifier(path)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/internal/ingest/run", nil)
	assert.False(t, v.Valid(req))
}
