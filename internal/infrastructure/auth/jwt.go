package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

// Verifier checks access tokens issued by the identity provider. Tokens are
// HS256-signed and carry the profile id in the sub claim.
type Verifier struct {
	secret   []byte
	audience string
}

func NewVerifier(secret, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not set")
	}
	return &Verifier{secret: []byte(secret), audience: audience}, nil
}

func (v *Verifier) Verify(tokenStr string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", pkgerrors.ErrUnauthorized, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid subject", pkgerrors.ErrUnauthorized)
	}
	return id, nil
}
