// Package session mints and verifies the bearer session token issued by
// verify-challenge (spec §4.1), grounded on the teacher's
// internal/middleware/auth.go Claims/validateToken shape, generalized from
// RSA-verified service claims to HMAC-verified session claims signed with a
// process-wide secret.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// Claims are the signed claims of a session token.
type Claims struct {
	UserID     string `json:"sub"`
	ExternalID string `json:"external_id"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies session tokens. Secret is used to sign new
// tokens; PreviousSecret, if set, is also accepted on verify to support
// staged secret rotation (spec §9).
type Issuer struct {
	Secret         string
	PreviousSecret string
	TTL            time.Duration
}

// Mint issues a new session token for userID/externalID.
func (iss *Issuer) Mint(userID, externalID string) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(iss.TTL)
	claims := Claims{
		UserID:     userID,
		ExternalID: externalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(iss.Secret))
	if err != nil {
		return "", time.Time{}, apierrors.Internal("failed to sign session token", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token, returning its claims.
func (iss *Issuer) Verify(tokenString string) (*Claims, error) {
	claims, err := parseWithSecrets(tokenString, iss.Secret, iss.PreviousSecret)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthenticated, "invalid session token", err)
	}
	return claims, nil
}

func parseWithSecrets(tokenString, secret, previous string) (*Claims, error) {
	claims := &Claims{}
	keyfunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, keyfunc)
	if err == nil && token.Valid {
		return claims, nil
	}

	if previous != "" {
		claims2 := &Claims{}
		keyfunc2 := func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(previous), nil
		}
		token2, err2 := jwt.ParseWithClaims(tokenString, claims2, keyfunc2)
		if err2 == nil && token2.Valid {
			return claims2, nil
		}
	}

	return nil, err
}
