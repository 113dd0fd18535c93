package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// loadOrGenerateRootSecret loads the persistent root secret, generating one
// on first run. Attestation keys are derived from it per purpose, so the
// secret itself never signs anything.
func loadOrGenerateRootSecret(dataDir string) ([]byte, error) {
	keyPath := filepath.Join(dataDir, "root.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		secret, err := decodeHexSecret(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid root.key: %w", err)
		}
		slog.Info("trust: loaded persistent root secret", "path", keyPath)
		return secret, nil
	}

	// Generate a new persistent secret if not in production
	if os.Getenv("LOOM_PRODUCTION") == "1" {
		return nil, fmt.Errorf("production mode requires %s to exist", keyPath)
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, fmt.Errorf("save root.key: %w", err)
	}

	slog.Warn("trust: generated new root secret, use a KMS in production", "path", keyPath)
	return secret, nil
}

func decodeHexSecret(s string) ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("secret must be hex: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret is empty")
	}
	return secret, nil
}
