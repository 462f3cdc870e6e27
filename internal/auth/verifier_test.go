package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gibberwallet/wavebridge/internal/config"
)

const testSecret = "test-secret-key"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func jwkFor(key *rsa.PrivateKey, kid string) JWK {
	return JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func validClaims(roles ...interface{}) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "operator-1",
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewVerifierRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		config VerifierConfig
	}{
		{"unknown algorithm", VerifierConfig{Algorithm: "ES256"}},
		{"HS256 without secret", VerifierConfig{Algorithm: AlgorithmHS256}},
		{"RS256 without key", VerifierConfig{Algorithm: AlgorithmRS256}},
		{"RS256 bad PEM", VerifierConfig{Algorithm: AlgorithmRS256, PublicKeyPEM: "not a key"}},
		{"RS256 unreachable JWKS", VerifierConfig{Algorithm: AlgorithmRS256, JWKSURL: "http://127.0.0.1:1/jwks.json"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewVerifier(tc.config)
			assert.Error(t, err)
		})
	}
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	require.NoError(t, err)

	claims, err := v.VerifyToken(signHS256(t, validClaims(RoleViewer)))
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.Subject)
	assert.Equal(t, []string{RoleViewer}, claims.Roles)
	assert.Equal(t, []string{ScopeRead, ScopeEvents}, claims.Scopes)

	explicit := validClaims(RoleController)
	explicit["scopes"] = "read"
	claims, err = v.VerifyToken(signHS256(t, explicit))
	require.NoError(t, err)
	assert.Equal(t, []string{ScopeRead}, claims.Scopes)
	assert.False(t, claims.HasScope(ScopeControl))
}

func TestVerifyRejectsInvalidTokens(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: testSecret})
	require.NoError(t, err)

	expired := validClaims(RoleViewer)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noSub := validClaims(RoleViewer)
	delete(noSub, "sub")

	badScope := validClaims(RoleViewer)
	badScope["scopes"] = []interface{}{"telemetry"}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(RoleViewer)).SignedString([]byte("other"))
	require.NoError(t, err)

	rsToken := signRS256(t, newRSAKey(t), "", validClaims(RoleViewer))

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not.a.token",
		"expired":         signHS256(t, expired),
		"missing sub":     signHS256(t, noSub),
		"no roles":        signHS256(t, validClaims()),
		"unknown role":    signHS256(t, validClaims("admin")),
		"unknown scope":   signHS256(t, badScope),
		"wrong secret":    wrongKey,
		"wrong algorithm": rsToken,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.VerifyToken(token)
			assert.Error(t, err)
		})
	}
}

func TestVerifyRS256WithPEM(t *testing.T) {
	key := newRSAKey(t)
	v, err := NewVerifier(VerifierConfig{Algorithm: AlgorithmRS256, PublicKeyPEM: publicPEM(t, key)})
	require.NoError(t, err)

	claims, err := v.VerifyToken(signRS256(t, key, "", validClaims(RoleController)))
	require.NoError(t, err)
	assert.True(t, claims.HasScope(ScopeControl))

	_, err = v.VerifyToken(signRS256(t, newRSAKey(t), "", validClaims(RoleController)))
	assert.Error(t, err)
}

func TestVerifyRS256WithJWKS(t *testing.T) {
	first := newRSAKey(t)
	second := newRSAKey(t)

	var fetches atomic.Int32
	var set atomic.Value
	set.Store(JWKSet{Keys: []JWK{jwkFor(first, "k1")}})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(set.Load())
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{
		Algorithm:           AlgorithmRS256,
		JWKSURL:             srv.URL,
		JWKSRefreshInterval: 0,
		JWKSCacheTimeout:    time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())

	_, err = v.VerifyToken(signRS256(t, first, "k1", validClaims(RoleViewer)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "cached key needs no fetch")

	set.Store(JWKSet{Keys: []JWK{jwkFor(first, "k1"), jwkFor(second, "k2")}})
	_, err = v.VerifyToken(signRS256(t, second, "k2", validClaims(RoleViewer)))
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())

	_, err = v.VerifyToken(signRS256(t, second, "k3", validClaims(RoleViewer)))
	assert.Error(t, err)
}

func TestJWKSRefreshIsRateLimited(t *testing.T) {
	key := newRSAKey(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(JWKSet{Keys: []JWK{jwkFor(key, "k1")}})
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{
		Algorithm:           AlgorithmRS256,
		JWKSURL:             srv.URL,
		JWKSRefreshInterval: time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = v.VerifyToken(signRS256(t, key, "unknown", validClaims(RoleViewer)))
		assert.Error(t, err)
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestBase64URLDecodeAcceptsPadding(t *testing.T) {
	for _, in := range []string{"AQAB", "AQAB==", "_-8"} {
		_, err := base64URLDecode(in)
		assert.NoError(t, err, in)
	}
	_, err := base64URLDecode("***")
	assert.Error(t, err)
}

func TestConfigFromAuth(t *testing.T) {
	vc, err := ConfigFromAuth(config.AuthConfig{HMACSecret: "s", JWKSURL: "http://ignored"})
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHS256, vc.Algorithm)
	assert.Equal(t, "s", vc.SecretKey)

	key := newRSAKey(t)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, []byte(publicPEM(t, key)), 0o600))

	vc, err = ConfigFromAuth(config.AuthConfig{PublicKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, AlgorithmRS256, vc.Algorithm)
	assert.Contains(t, vc.PublicKeyPEM, "PUBLIC KEY")

	_, err = ConfigFromAuth(config.AuthConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	_, err = ConfigFromAuth(config.AuthConfig{})
	assert.Error(t, err)
}
