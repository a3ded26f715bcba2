package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/payrollportal/internal/uuid"
	"github.com/jmcleod/payrollportal/session"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 24 * time.Hour

const (
	tokenIssuerName = "payrollportal"
	minSecretLen    = 16
)

// ErrInvalidToken covers malformed, tampered and expired tokens alike.
var ErrInvalidToken = errors.New("invalid or expired token")

type tokenClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies HS256 tokens. The signing secret lives in a
// memguard enclave and is only decrypted for the duration of a call.
type tokenIssuer struct {
	secret *memguard.Enclave
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret []byte, ttl time.Duration) (*tokenIssuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &tokenIssuer{
		secret: memguard.NewEnclave(cp),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (ti *tokenIssuer) issue(user session.User) (token string, expiresAt time.Time, err error) {
	now := ti.now()
	expiresAt = now.Add(ti.ttl)
	claims := tokenClaims{
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New(),
			Issuer:    tokenIssuerName,
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	key, err := ti.secret.Open()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("opening token secret: %w", err)
	}
	defer key.Destroy()

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

func (ti *tokenIssuer) parse(raw string) (session.User, error) {
	key, err := ti.secret.Open()
	if err != nil {
		return session.User{}, fmt.Errorf("opening token secret: %w", err)
	}
	defer key.Destroy()

	var claims tokenClaims
	_, err = jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return key.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return session.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Username == "" {
		return session.User{}, ErrInvalidToken
	}
	return session.User{Username: claims.Username, Email: claims.Email, Role: claims.Role}, nil
}
