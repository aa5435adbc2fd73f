package npm

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenRefreshWindow is how long before expiry the client logs in again.
const tokenRefreshWindow = time.Minute

// tokenExpiry reads the exp claim without verifying the signature; the proxy
// manager is the only party that verifies its tokens. Opaque or claim-less
// tokens fall back to the expiry the login response advertised.
func tokenExpiry(token string, advertised time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.UTC()
	}
	return advertised
}
