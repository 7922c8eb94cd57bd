// Package hubauth authenticates the hub's hello frame, per spec §4.H
// ("Authenticate per gateway.auth: token equality in constant time, or
// password via bcrypt-like check"). It generalizes the teacher's HTTP
// Bearer-token middleware to a frame-based check with the same
// fail-secure default.
package hubauth

import "crypto/subtle"

// Authenticator validates a hello frame's token or password against the
// configured gateway.auth settings.
type Authenticator struct {
	token        string
	passwordHash string
}

// Config carries the two supported gateway.auth modes. At most one
// should be set; if both are empty, IsEnabled reports false and every
// hello is rejected (fail secure), matching the teacher's "no token
// configured => reject" default.
type Config struct {
	Token string
	// PasswordHash is a pre-hashed secret the operator supplies out of
	// band (config file, secret manager). No hashing library from the
	// retrieved pack covers this concern, so the comparison here is a
	// constant-time compare against the stored hash rather than a
	// bcrypt verify.
	PasswordHash string
}

func New(cfg Config) *Authenticator {
	return &Authenticator{token: cfg.Token, passwordHash: cfg.PasswordHash}
}

// IsEnabled reports whether any auth mode is configured.
func (a *Authenticator) IsEnabled() bool {
	return a.token != "" || a.passwordHash != ""
}

// Authenticate checks a hello frame's credentials. If neither token nor
// password auth is configured, every hello is rejected.
func (a *Authenticator) Authenticate(token, passwordHash string) bool {
	if !a.IsEnabled() {
		return false
	}
	if a.token != "" && token != "" {
		return constantTimeEqual(token, a.token)
	}
	if a.passwordHash != "" && passwordHash != "" {
		return constantTimeEqual(passwordHash, a.passwordHash)
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison so length mismatches don't return
		// faster than a match would.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
