package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	jwtIssuer   = "veridoc"
	jwtAudience = "veridoc-api"
)

var jwtLeeway = 30 * time.Second

// JWTSessionStore issues and validates stateless HS256 session tokens. Logout
// is best-effort: the token simply expires, there is no server-side state.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTSessionStore builds an HS256 session store.
func NewJWTSessionStore(secret string, ttl time.Duration) (*JWTSessionStore, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	return &JWTSessionStore{secret: []byte(secret), ttl: ttl}, nil
}

// NewSession issues a signed token carrying the account ID as subject.
func (s *JWTSessionStore) NewSession(accountID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Audience:  jwt.ClaimStrings{jwtAudience},
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// GetAccountIDByToken validates the token and returns its subject.
func (s *JWTSessionStore) GetAccountIDByToken(token string) (string, bool, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(jwtIssuer),
		jwt.WithAudience(jwtAudience),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", false, nil
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", false, nil
	}
	return claims.Subject, true, nil
}

// DeleteSession is a no-op for stateless tokens.
func (s *JWTSessionStore) DeleteSession(string) error {
	return nil
}
