package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/sweeney/irrigation-scheduler/internal/store"
)

// Principal is the authenticated owner behind a request.
type Principal struct {
	UserID    string
	Name      string
	TokenID   string
	ExpiresAt time.Time
}

type claims struct {
	Name string `json:"nome"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (ti *tokenIssuer) issue(u store.User) (string, Principal, error) {
	now := ti.now()
	p := Principal{
		UserID:    u.ID,
		Name:      u.Name,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(ti.ttl),
	}
	c := claims{
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.TokenID,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ti.secret)
	if err != nil {
		return "", Principal{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, p, nil
}

func (ti *tokenIssuer) parse(token string) (Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if c.Subject == "" || c.ID == "" || c.ExpiresAt == nil {
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		UserID:    c.Subject,
		Name:      c.Name,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
