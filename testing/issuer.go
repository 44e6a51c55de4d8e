// Package testing provides utilities for testing applications that mount the
// authstudio read API. It mints studio access tokens with a throwaway secret
// so handlers can be exercised without provisioning one.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	router := core.NewRouter(pipeline, core.WithVerifier(issuer.Verifier()))
//
//	token := issuer.CreateTokenWithRoles("user-123", "test@example.com", []string{"admin"})
package testing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	jwtkit "github.com/PaulFidika/authstudio/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

// TestIssuer signs studio tokens that validate against its own Verifier.
type TestIssuer struct {
	signer *jwtkit.HMACSigner
	secret []byte
}

func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithIssuer(jwtkit.DefaultIssuer)
}

// NewTestIssuerWithIssuer creates a test issuer with a specific iss claim.
func NewTestIssuerWithIssuer(issuer string) *TestIssuer {
	raw := make([]byte, jwtkit.MinSecretLen)
	if _, err := rand.Read(raw); err != nil {
		panic("failed to generate secret: " + err.Error())
	}
	secret := []byte(hex.EncodeToString(raw))
	signer, err := jwtkit.NewHMACSigner(secret, issuer)
	if err != nil {
		panic("failed to create signer: " + err.Error())
	}
	return &TestIssuer{signer: signer, secret: secret}
}

// Secret returns the signing secret, for configuring a second verifier.
func (ti *TestIssuer) Secret() []byte { return ti.secret }

func (ti *TestIssuer) Issuer() string { return ti.signer.Issuer() }

// Verifier accepts every token this issuer creates.
func (ti *TestIssuer) Verifier() jwtkit.Verifier { return ti.signer }

func (ti *TestIssuer) CreateToken(userID, email string) string {
	return ti.CreateTokenWithExpiry(userID, email, nil, time.Now().Add(time.Hour))
}

// CreateTokenWithRoles creates a signed token with role claims.
func (ti *TestIssuer) CreateTokenWithRoles(userID, email string, roles []string) string {
	return ti.CreateTokenWithExpiry(userID, email, roles, time.Now().Add(time.Hour))
}

// CreateTokenWithExpiry creates a signed token with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(userID, email string, roles []string, expiry time.Time) string {
	now := time.Now()
	iat := now
	if expiry.Before(now) {
		iat = expiry.Add(-time.Hour)
	}
	token, err := ti.signer.Sign(context.Background(), jwtkit.Claims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	})
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateExpiredToken creates a token that has already expired.
func (ti *TestIssuer) CreateExpiredToken(userID, email string) string {
	return ti.CreateTokenWithExpiry(userID, email, nil, time.Now().Add(-time.Hour))
}
