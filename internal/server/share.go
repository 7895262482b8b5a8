package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ShareSigner mints and verifies the signed payloads embedded in share
// deep-links (`https://t.me/<bot>?start=<payload>`), so an invite can be
// attributed to the inviting player without trusting the query string.
type ShareSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewShareSigner(secret string) *ShareSigner {
	return &ShareSigner{secret: []byte(secret), ttl: 30 * 24 * time.Hour}
}

type shareClaims struct {
	Inviter int64 `json:"inv"`
	jwt.RegisteredClaims
}

func (s *ShareSigner) Sign(inviterID int64) (string, error) {
	claims := shareClaims{
		Inviter: inviterID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the inviting player id for a valid payload.
func (s *ShareSigner) Verify(payload string) (int64, error) {
	var claims shareClaims
	_, err := jwt.ParseWithClaims(payload, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}
	return claims.Inviter, nil
}
