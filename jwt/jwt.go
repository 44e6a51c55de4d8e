package jwtkit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the iss claim of studio access tokens.
	DefaultIssuer = "authstudio"
	// DefaultTTL is the lifetime of tokens minted by Issue.
	DefaultTTL = 12 * time.Hour
	// MinSecretLen is the shortest accepted HMAC secret in bytes.
	MinSecretLen = 32
)

var (
	ErrShortSecret  = errors.New("jwt: studio secret is shorter than 32 bytes")
	ErrInvalidToken = errors.New("jwt: invalid studio token")
)

// Claims are carried by a studio access token.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role (case-insensitive).
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	return slices.ContainsFunc(c.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// Signer mints studio access tokens.
type Signer interface {
	// Algorithm returns the JWS algorithm (HS256).
	Algorithm() string
	Sign(ctx context.Context, claims Claims) (string, error)
}

// Verifier checks a raw token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

// HMACSigner signs and verifies HS256 tokens with one shared secret.
type HMACSigner struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewHMACSigner(secret []byte, issuer string) (*HMACSigner, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrShortSecret
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultIssuer
	}
	return &HMACSigner{secret: slices.Clone(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

func (s *HMACSigner) Algorithm() string { return jwt.SigningMethodHS256.Alg() }
func (s *HMACSigner) Issuer() string    { return s.issuer }

// Sign fills Issuer when the claims leave it empty.
func (s *HMACSigner) Sign(_ context.Context, claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Issue mints a token for subject valid for ttl (DefaultTTL when zero).
func (s *HMACSigner) Issue(ctx context.Context, subject, email string, roles []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.Sign(ctx, Claims{
		Email:            email,
		Roles:            roles,
		RegisteredClaims: BaseRegisteredClaims(subject, nil, ttl),
	})
}

// Verify accepts only HS256 tokens from this issuer that carry an expiry.
func (s *HMACSigner) Verify(_ context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Helper to make base registered claims.
func BaseRegisteredClaims(subject string, audiences []string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  audiences,
	}
}
