package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshBoundary is the conservative window before expiry in which a
// credential is already treated as invalid.
const refreshBoundary = 5 * time.Minute

// Credential is a bearer token with its parsed expiry.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCredential decodes the token's own exp claim when possible. Tokens
// whose claims cannot be read get the fallback lifetime instead; the
// provider does not publish its signing key, so the signature is not
// verified here.
func NewCredential(token string, fallback time.Duration, now time.Time) Credential {
	cred := Credential{Token: token, ExpiresAt: now.Add(fallback)}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return cred
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return cred
	}
	cred.ExpiresAt = exp.Time
	return cred
}

// ValidAt reports whether the credential is usable at the given instant. It
// turns false refreshBoundary ahead of the real expiry so a request started
// now cannot ride a token that dies mid-flight.
func (c Credential) ValidAt(now time.Time) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-refreshBoundary))
}
