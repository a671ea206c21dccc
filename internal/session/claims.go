package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessExpiry reads exp without verifying the signature. The BFF never
// trusts these claims for access decisions; it only reports the expiry.
func accessExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
