// Package authpw verifies the configured admin password. Stakeholders
// have no password; only the admin path goes through here.
package authpw

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotConfigured means no admin password is set on the server.
	ErrNotConfigured = errors.New("admin password not configured")
	// ErrMismatch means the supplied password is wrong.
	ErrMismatch = errors.New("password mismatch")
)

// Verifier checks admin login attempts against either a bcrypt hash or,
// when only the plain secret is configured, a constant-time comparison.
type Verifier struct {
	plain string
	hash  string
}

func New(plain, bcryptHash string) *Verifier {
	return &Verifier{plain: plain, hash: bcryptHash}
}

// Configured reports whether any admin secret is set.
func (v *Verifier) Configured() bool {
	return v.plain != "" || v.hash != ""
}

func (v *Verifier) Verify(password string) error {
	if v.hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(password)); err != nil {
			return ErrMismatch
		}
		return nil
	}
	if v.plain != "" {
		if subtle.ConstantTimeCompare([]byte(v.plain), []byte(password)) != 1 {
			return ErrMismatch
		}
		return nil
	}
	return ErrNotConfigured
}
