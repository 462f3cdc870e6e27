package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/audit"
	"github.com/gibberwallet/wavebridge/internal/logging"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether c grants scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes.
const (
	ScopeRead    = "read"
	ScopeControl = "control"
	ScopeEvents  = "events"
)

var roleScopes = map[string][]string{
	RoleViewer:     {ScopeRead, ScopeEvents},
	RoleController: {ScopeRead, ScopeControl, ScopeEvents},
}

var validScopes = map[string]bool{
	ScopeRead:    true,
	ScopeControl: true,
	ScopeEvents:  true,
}

func scopesForRoles(roles []string) []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, role := range roles {
		for _, s := range roleScopes[role] {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes
}

// AnonymousSubject is the subject given to requests when authentication is
// disabled.
const AnonymousSubject = "anonymous"

type contextKey struct{}

// TokenVerifier verifies a bearer token.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// Middleware authenticates requests and enforces scopes.
type Middleware struct {
	verifier TokenVerifier
	log      zerolog.Logger
}

// NewMiddleware creates the middleware. A nil verifier disables
// authentication.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{
		verifier: verifier,
		log:      logging.Component("auth"),
	}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// Require wraps next so that it runs only for callers holding every scope.
// The verified subject is stored for handlers and the audit log.
func (m *Middleware) Require(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := m.authenticate(w, r)
			if !ok {
				return
			}
			for _, scope := range scopes {
				if !claims.HasScope(scope) {
					m.log.Debug().Str("subject", claims.Subject).Str("scope", scope).Msg("scope denied")
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims)
			ctx = audit.WithUser(ctx, claims.Subject)
			next(w, r.WithContext(ctx))
		}
	}
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	if m.verifier == nil {
		return &Claims{
			Subject: AnonymousSubject,
			Roles:   []string{RoleController},
			Scopes:  roleScopes[RoleController],
		}, true
	}

	token, ok := extractToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, false
	}
	claims, err := m.verifier.VerifyToken(token)
	if err != nil {
		m.log.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return nil, false
	}
	return claims, true
}

// extractToken reads the bearer token from the Authorization header, or
// from the access_token query parameter on GET requests since browser
// EventSource and WebSocket clients cannot set headers.
func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		return token, found && token != ""
	}
	if r.Method == http.MethodGet {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// ClaimsFromContext returns the claims stored by Require, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

// writeError writes an error response in the API envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
