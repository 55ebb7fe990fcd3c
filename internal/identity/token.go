// internal/identity/token.go
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")

	// ErrWeakKey is returned for identities that are not curve points or that
	// lie in the small-order subgroup. Signatures for those keys can be made
	// without a private key.
	ErrWeakKey = errors.New("weak identity key")
)

// Claims carries the caller identity in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token proving the identity of key.
func IssueToken(key ed25519.PrivateKey, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Of(key).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the token signature against the key named in its subject
// and returns that identity.
func VerifyToken(tokenStr string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		id, err := Parse(claims.Subject)
		if err != nil {
			return nil, err
		}
		if err := checkKey(id); err != nil {
			return nil, err
		}
		return id.PublicKey(), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return Identity{}, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	return Parse(claims.Subject)
}

func checkKey(id Identity) error {
	p, err := new(edwards25519.Point).SetBytes(id[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWeakKey, err)
	}
	if new(edwards25519.Point).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return ErrWeakKey
	}
	return nil
}
