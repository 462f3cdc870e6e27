package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gibberwallet/wavebridge/internal/config"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// Algorithm is AlgorithmHS256 or AlgorithmRS256.
	Algorithm string

	// SecretKey signs HS256 tokens.
	SecretKey string

	// PublicKeyPEM verifies RS256 tokens without a kid header.
	PublicKeyPEM string
	// JWKSURL serves keys for RS256 tokens carrying a kid header.
	JWKSURL string

	JWKSRefreshInterval time.Duration
	JWKSCacheTimeout    time.Duration
}

// ConfigFromAuth builds a VerifierConfig from the service configuration.
// The secret wins when both a secret and a key are set.
func ConfigFromAuth(a config.AuthConfig) (VerifierConfig, error) {
	if a.HMACSecret != "" {
		return VerifierConfig{Algorithm: AlgorithmHS256, SecretKey: a.HMACSecret}, nil
	}

	vc := VerifierConfig{
		Algorithm:           AlgorithmRS256,
		JWKSURL:             a.JWKSURL,
		JWKSRefreshInterval: 5 * time.Minute,
		JWKSCacheTimeout:    time.Hour,
	}
	if a.PublicKeyPath != "" {
		data, err := os.ReadFile(a.PublicKeyPath)
		if err != nil {
			return VerifierConfig{}, fmt.Errorf("read public key: %w", err)
		}
		vc.PublicKeyPEM = string(data)
	}
	if vc.PublicKeyPEM == "" && vc.JWKSURL == "" {
		return VerifierConfig{}, errors.New("auth: no verification method configured")
	}
	return vc, nil
}

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a JSON Web Key Set.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type cachedKey struct {
	key     *rsa.PublicKey
	fetched time.Time
}

// Verifier checks token signatures and extracts Claims.
type Verifier struct {
	config     VerifierConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]cachedKey
	lastFetch time.Time

	// refreshMu keeps concurrent misses from fetching the set twice.
	refreshMu sync.Mutex
}

// NewVerifier creates a JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{
		config:     config,
		keys:       make(map[string]cachedKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	switch config.Algorithm {
	case AlgorithmHS256:
		if config.SecretKey == "" {
			return nil, errors.New("HS256 requires secret key")
		}
	case AlgorithmRS256:
		if config.PublicKeyPEM == "" && config.JWKSURL == "" {
			return nil, errors.New("RS256 requires a public key or JWKS URL")
		}
		if config.PublicKeyPEM != "" {
			key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKeyPEM))
			if err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
			v.publicKey = key
		}
		if config.JWKSURL != "" {
			if err := v.fetchJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a JWT and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.Parse(tokenString, v.keyFunc, jwt.WithValidMethods([]string{v.config.Algorithm}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return extractClaims(mc)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.config.Algorithm == AlgorithmHS256 {
		return []byte(v.config.SecretKey), nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		if v.publicKey == nil {
			return nil, errors.New("no public key available")
		}
		return v.publicKey, nil
	}
	return v.keyForID(kid)
}

// extractClaims reads sub, roles and scopes. A token without scopes is
// granted the scopes of its roles.
func extractClaims(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing or invalid 'sub' claim")
	}

	roles, err := stringSlice(mc, "roles")
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, errors.New("missing 'roles' claim")
	}
	for _, role := range roles {
		if _, ok := roleScopes[role]; !ok {
			return nil, fmt.Errorf("invalid role: %s", role)
		}
	}

	scopes, err := stringSlice(mc, "scopes")
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = scopesForRoles(roles)
	}
	for _, scope := range scopes {
		if !validScopes[scope] {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func stringSlice(mc jwt.MapClaims, key string) ([]string, error) {
	value, ok := mc[key]
	if !ok {
		return nil, nil
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return strings.Fields(val), nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

// fetchJWKS replaces the cached key set.
func (v *Verifier) fetchJWKS() error {
	resp, err := v.httpClient.Get(v.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	now := time.Now()
	keys := make(map[string]cachedKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") || (jwk.Alg != "" && jwk.Alg != AlgorithmRS256) {
			continue
		}
		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = cachedKey{key: key, fetched: now}
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = now
	v.mu.Unlock()
	return nil
}

// keyForID returns the key for kid, refetching the set when the key is
// unknown or stale and the refresh interval has passed.
func (v *Verifier) keyForID(kid string) (*rsa.PublicKey, error) {
	if key, ok := v.cached(kid); ok {
		return key, nil
	}

	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	if key, ok := v.cached(kid); ok {
		return key, nil
	}
	v.mu.RLock()
	due := time.Since(v.lastFetch) >= v.config.JWKSRefreshInterval
	v.mu.RUnlock()
	if !due {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}
	if key, ok := v.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

func (v *Verifier) cached(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.keys[kid]
	if !ok {
		return nil, false
	}
	if v.config.JWKSCacheTimeout > 0 && time.Since(entry.fetched) >= v.config.JWKSCacheTimeout {
		return nil, false
	}
	return entry.key, true
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}

// base64URLDecode accepts padded and unpadded base64url.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}
