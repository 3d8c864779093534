// Package ticket mints and verifies the single-use sign-intent tickets
// produced by POST /v1/identities/:id/sign-intent and consumed by
// POST /v1/identities/:id/sign (spec §4.2), grounded on the same
// golang-jwt/jwt/v5 shape as internal/session but with a distinct secret and
// claim set, since tickets and session tokens must never be interchangeable.
package ticket

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// Claims are the signed claims of a sign-intent ticket.
type Claims struct {
	UserID     string `json:"sub"`
	IdentityID string `json:"identity_id"`
	DigestHash string `json:"digest_hash"`
	Scope      string `json:"scope"`
	Nonce      string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies sign-intent tickets. Secret is used to sign new
// tickets; PreviousSecret, if set, is also accepted on verify to support
// staged secret rotation independent of the session secret.
type Issuer struct {
	Secret         string
	PreviousSecret string
	TTL            time.Duration
}

// MintParams carries everything a minted ticket must bind to.
type MintParams struct {
	JTI        string
	UserID     string
	IdentityID string
	DigestHash string
	Scope      string
	Nonce      string
}

// Mint issues a new sign-intent ticket bound to a single digest, identity,
// scope and nonce.
func (iss *Issuer) Mint(p MintParams) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(iss.TTL)
	claims := Claims{
		UserID:     p.UserID,
		IdentityID: p.IdentityID,
		DigestHash: p.DigestHash,
		Scope:      p.Scope,
		Nonce:      p.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.JTI,
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(iss.Secret))
	if err != nil {
		return "", time.Time{}, apierrors.Internal("failed to sign ticket", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a ticket, returning its claims. It does not
// check single-use consumption; callers must consult the ticket store's
// used/unused state and the enclave nonce ledger separately.
func (iss *Issuer) Verify(tokenString string) (*Claims, error) {
	claims, err := parseWithSecrets(tokenString, iss.Secret, iss.PreviousSecret)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthenticated, "invalid ticket", err)
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
