package jwtkit

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSecretPath is the directory where External Secrets mounts the studio secret.
	DefaultSecretPath = "/vault/authstudio"
	// SecretEnv holds the studio secret; a "base64:" prefix marks an encoded value.
	SecretEnv = "AUTHSTUDIO_SECRET"

	defaultSecretDir = ".runtime/authstudio"
	secretFile       = "secret"
)

// NewAutoSigner loads the studio secret (see LoadSecret) and returns a signer.
func NewAutoSigner(issuer string) (*HMACSigner, error) {
	secret, err := LoadSecret()
	if err != nil {
		return nil, err
	}
	return NewHMACSigner(secret, issuer)
}

// LoadSecret discovers the studio secret with the following priority:
// 1. AUTHSTUDIO_SECRET
// 2. /vault/authstudio/secret
// 3. A generated secret persisted in .runtime/authstudio/ (development only)
//
// In production the generated fallback is disabled and a missing secret is an error.
func LoadSecret() ([]byte, error) {
	if secret, err := tryLoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secret from %s: %w", SecretEnv, err)
	} else if secret != nil {
		return secret, nil
	}

	if secret, err := tryLoadFromFilesystem(DefaultSecretPath); err != nil {
		return nil, fmt.Errorf("failed to load secret from %s: %w", DefaultSecretPath, err)
	} else if secret != nil {
		return secret, nil
	}

	if isProdEnv() {
		return nil, fmt.Errorf("no studio secret found in %s or %s and generation is disabled in production", SecretEnv, DefaultSecretPath)
	}
	return generatedSecret(defaultSecretDir)
}

// isProdEnv returns true if the current process appears to be running in a
// production environment based on common environment variables:
//
//	ENV, APP_ENV, or ENVIRONMENT (case-insensitive).
func isProdEnv() bool {
	env := strings.TrimSpace(os.Getenv("ENV"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("APP_ENV"))
	}
	if env == "" {
		env = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	}
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}

// tryLoadFromEnv returns (nil, nil) when the variable is unset.
func tryLoadFromEnv() ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(SecretEnv))
	if v == "" {
		return nil, nil
	}
	return decodeSecret(v)
}

// tryLoadFromFilesystem returns (nil, nil) when the directory or file is missing.
func tryLoadFromFilesystem(dir string) ([]byte, error) {
	if dir == "" {
		dir = DefaultSecretPath
	}
	data, err := os.ReadFile(filepath.Join(dir, secretFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return decodeSecret(strings.TrimSpace(string(data)))
}

func decodeSecret(v string) ([]byte, error) {
	if enc, ok := strings.CutPrefix(v, "base64:"); ok {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode base64 secret: %w", err)
		}
		v = string(b)
	}
	if len(v) < MinSecretLen {
		return nil, ErrShortSecret
	}
	return []byte(v), nil
}

// generatedSecret reuses a persisted dev secret or creates one. A failed
// write is logged and the in-memory secret is still returned.
func generatedSecret(dir string) ([]byte, error) {
	if secret, err := tryLoadFromFilesystem(dir); err == nil && secret != nil {
		return secret, nil
	}
	raw := make([]byte, MinSecretLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(raw))
	if err := persistSecret(dir, secret); err != nil {
		logrus.WithError(err).Warn("failed to persist authstudio dev secret")
	}
	return secret, nil
}

func persistSecret(dir string, secret []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create secret directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretFile), secret, 0600); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	return nil
}
