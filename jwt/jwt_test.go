package jwtkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte(strings.Repeat("s", MinSecretLen))

func newSigner(t *testing.T) *HMACSigner {
	t.Helper()
	s, err := NewHMACSigner(testSecret, "")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	return s
}

func TestIssueAndVerify(t *testing.T) {
	s := newSigner(t)
	tok, err := s.Issue(context.Background(), "u1", "ada@example.com", []string{"Admin"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := s.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Subject != "u1" || c.Email != "ada@example.com" || c.Issuer != DefaultIssuer {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if !c.HasRole("admin") || c.HasRole("owner") {
		t.Fatalf("role check failed: %v", c.Roles)
	}
}

func TestVerifyRejects(t *testing.T) {
	s := newSigner(t)
	ctx := context.Background()

	expired, _ := s.Sign(ctx, Claims{RegisteredClaims: BaseRegisteredClaims("u1", nil, -time.Hour)})
	other, _ := NewHMACSigner(testSecret, "someone-else")
	foreign, _ := other.Issue(ctx, "u1", "", nil, time.Minute)
	wrongKey, _ := NewHMACSigner([]byte(strings.Repeat("k", MinSecretLen)), "")
	forged, _ := wrongKey.Issue(ctx, "u1", "", nil, time.Minute)
	noExp, _ := s.Sign(ctx, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: BaseRegisteredClaims("u1", nil, time.Hour)}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"expired":   expired,
		"issuer":    foreign,
		"signature": forged,
		"no exp":    noExp,
		"alg none":  unsigned,
	}
	for name, tok := range cases {
		if _, err := s.Verify(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewHMACSigner_ShortSecret(t *testing.T) {
	if _, err := NewHMACSigner([]byte("short"), ""); !errors.Is(err, ErrShortSecret) {
		t.Fatalf("expected ErrShortSecret, got %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{SecretEnv, "ENV", "APP_ENV", "ENVIRONMENT"} {
		t.Setenv(k, "")
	}
}

func TestLoadSecret_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(SecretEnv, string(testSecret))
	got, err := LoadSecret()
	if err != nil || string(got) != string(testSecret) {
		t.Fatalf("LoadSecret = %q, %v", got, err)
	}

	t.Setenv(SecretEnv, "base64:c2hvcnQ=")
	if _, err := LoadSecret(); !errors.Is(err, ErrShortSecret) {
		t.Fatalf("expected ErrShortSecret, got %v", err)
	}
}

func TestTryLoadFromFilesystem(t *testing.T) {
	dir := t.TempDir()
	if got, err := tryLoadFromFilesystem(dir); got != nil || err != nil {
		t.Fatalf("missing file should be (nil, nil), got %q, %v", got, err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretFile), append(testSecret, '\n'), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := tryLoadFromFilesystem(dir)
	if err != nil || string(got) != string(testSecret) {
		t.Fatalf("tryLoadFromFilesystem = %q, %v", got, err)
	}
}

func TestGeneratedSecretIsPersisted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runtime")
	first, err := generatedSecret(dir)
	if err != nil {
		t.Fatalf("generatedSecret: %v", err)
	}
	second, err := generatedSecret(dir)
	if err != nil {
		t.Fatalf("generatedSecret: %v", err)
	}
	if string(first) != string(second) || len(first) < MinSecretLen {
		t.Fatalf("expected a stable persisted secret, got %q then %q", first, second)
	}
}

func TestLoadSecret_ProductionRequiresProvisionedSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "Production")
	t.Chdir(t.TempDir())
	if _, err := os.Stat(DefaultSecretPath); err == nil {
		t.Skip("secret mounted on this host")
	}
	if _, err := LoadSecret(); err == nil {
		t.Fatal("expected an error in production without a secret")
	}
	if _, err := os.Stat(defaultSecretDir); !os.IsNotExist(err) {
		t.Fatalf("production must not persist a generated secret: %v", err)
	}
}
