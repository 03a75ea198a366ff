package mockkas

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// decodeJWTPayload extracts the claims from a signed request token without
// verifying the signature. The mock KAS trusts its test harness; a real KAS
// would verify against the expected signer.
func decodeJWTPayload(token string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("mockkas: parse token: %w", err)
	}
	return claims, nil
}
