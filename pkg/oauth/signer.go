package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// stateIssuer is the iss claim stamped on signed state tokens.
const stateIssuer = "touch-grass/state"

// minSigningKeyLen is the shortest HMAC key accepted.
const minSigningKeyLen = 32

// StateSigner wraps state nonces in HS256 JWTs.
type StateSigner struct {
	key []byte
}

// NewStateSigner creates a signer. The key must be at least 32 bytes.
func NewStateSigner(key []byte) (*StateSigner, error) {
	if len(key) < minSigningKeyLen {
		return nil, fmt.Errorf("state signing key must be at least %d bytes", minSigningKeyLen)
	}
	return &StateSigner{key: key}, nil
}

// Sign returns a JWT carrying nonce as its jti.
func (s *StateSigner) Sign(nonce string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing state token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the nonce.
func (s *StateSigner) Verify(token string, now func() time.Time) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return "", fmt.Errorf("verifying state token: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("state token has no jti")
	}
	return claims.ID, nil
}
