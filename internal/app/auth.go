package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/graphiti-browser/internal/config"
)

const (
	keyringService = "graphiti-browser"
	keyringUser    = "api-token"
)

// ResolveToken returns the API token: the configured one, else the keyring
// entry when auth.use_keyring is set. A missing keyring entry is not an error.
func ResolveToken(cfg config.AuthConfig) (string, error) {
	if cfg.Token != "" || !cfg.UseKeyring {
		return cfg.Token, nil
	}
	tok, err := keyring.Get(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("app: no token in keyring")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return tok, nil
}

// SaveToken stores token in the OS keyring.
func SaveToken(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token. Deleting a missing entry succeeds.
func DeleteToken() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring: %w", err)
	}
	return nil
}
