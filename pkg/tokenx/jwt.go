package tokenx

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeExpiry extracts the "exp" claim of a JWT as epoch milliseconds.
//
// The signature is deliberately not verified: the client only needs the
// expiry instant for refresh scheduling, and trust in the token is
// established by its origin (HTTPS transport from the clinic backend), not
// by client-side verification.
func DecodeExpiry(token string) (int64, bool) {
	if token == "" || !strings.Contains(token, ".") {
		return 0, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.UnixMilli(), true
}
