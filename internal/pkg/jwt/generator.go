// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Generator signs access tokens; `upgradectl token` uses it to mint tokens
// for the internal routes.
type Generator struct {
	priv     *rsa.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience string, ttl time.Duration) *Generator {
	return &Generator{priv: priv, issuer: issuer, audience: audience, ttl: ttl}
}

// GenerateAccessToken returns the signed token and its jti.
func (g *Generator) GenerateAccessToken(identityID int64, roles []string) (string, string, error) {
	if g.priv == nil {
		return "", "", fmt.Errorf("jwt generator has nil private key")
	}

	now := time.Now()
	jti := ulid.Make().String()
	claims := &Claims{
		IdentityID:     identityID,
		Roles:          roles,
		SessionPurpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   strconv.FormatInt(identityID, 10),
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.priv)
	return signed, jti, err
}
