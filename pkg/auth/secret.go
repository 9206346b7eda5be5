package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "loanscore"
	keyringUser    = "signing_secret"
	secretFileName = "signing_secret"
	secretBytes    = 32
)

// SecretStore keeps the token signing secret in the OS keychain, falling
// back to a file under Dir when no keychain is available.
type SecretStore struct {
	Dir string
}

// Load returns the signing secret, creating and saving one on first use.
func (s *SecretStore) Load() ([]byte, error) {
	secret, err := s.get()
	if err == nil {
		return []byte(secret), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	slog.Debug("no signing secret found, generating one")
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating signing secret: %w", err)
	}
	secret = hex.EncodeToString(b)

	if err := s.save(secret); err != nil {
		return nil, fmt.Errorf("saving signing secret: %w", err)
	}
	return []byte(secret), nil
}

func (s *SecretStore) save(secret string) error {
	if err := keyring.Set(keyringService, keyringUser, secret); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return os.WriteFile(s.filePath(), []byte(secret), 0600)
	}

	os.Remove(s.filePath())
	return nil
}

func (s *SecretStore) get() (string, error) {
	secret, err := keyring.Get(keyringService, keyringUser)
	if err == nil && secret != "" {
		return secret, nil
	}

	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("reading secret file %s: %w", s.filePath(), err)
	}
	secret = strings.TrimSpace(string(b))
	if secret == "" {
		return "", os.ErrNotExist
	}

	// migrate to keychain
	if migrateErr := keyring.Set(keyringService, keyringUser, secret); migrateErr == nil {
		slog.Info("migrated signing secret from file to OS keychain")
		os.Remove(s.filePath())
	}

	return secret, nil
}

func (s *SecretStore) filePath() string {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, secretFileName)
}
