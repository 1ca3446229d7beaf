package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens minted by GenerateToken.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

// Claims are the identity claims issued by the identity provider.
type Claims struct {
	UserID   string `json:"user_id"`
	Timezone string `json:"tz,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies and mints HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAuthenticator creates an authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateToken mints a token for userID with the given time zone preference.
func (a *Authenticator) GenerateToken(userID, tz string, now time.Time) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Timezone: tz,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
