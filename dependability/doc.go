// Package dependability authorizes inbound broker requests.
//
// Every query, update, subscribe and unsubscribe carries the raw
// Authorization header values of the request that produced it. Gate.Authorize
// checks that exactly one "Bearer <token>" value is present, verifies the
// token through a Verifier (JWTVerifier by default), then applies the
// broker's own policy: issuer, audience, expiry, revocation and an optional
// required scope. Failures are *AuthError values carrying an OAuth 2.0
// (RFC 6749 §5.2) error code; the code decides the HTTP status and the JSON
// error body returned to the client.
//
// Authorization is side-effect free apart from metrics, holds no lock across
// verification and may be called from any number of goroutines. The
// RevocationList is the only shared mutable state and uses an RWMutex.
//
// When security is disabled every request is authorized as the anonymous
// principal.
package dependability
