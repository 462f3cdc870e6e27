// Package auth verifies bearer tokens and enforces scopes on the HTTP API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM key or
// JWKS). Two roles exist: viewer may read state and subscribe to events,
// controller may also drive the modem. When no verification method is
// configured the middleware admits every request as an anonymous controller.
package auth
