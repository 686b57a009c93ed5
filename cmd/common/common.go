// Package common provides shared utilities for XChat CLI commands.
//
// This package contains helper functions used across the standalone binaries
// (xchatd, xchat) to reduce code duplication:
//
//   - Key loading and generation for Ed25519 signing keys
//   - YAML configuration loading
//   - Structured logger construction
package common

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/0xSterling/XChat/crypto"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadYAMLConfig reads a YAML file into cfg. A missing path is not an error;
// flag defaults apply.
func LoadYAMLConfig(path string, cfg any) error {
	if path == "" {
		return nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// SetupLogger creates the structured logger used by the binaries.
func SetupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
