package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	keychainService = "stockmeta"
	tokenAccount    = "api_token"
	tokenEnv        = "STOCKMETA_API_TOKEN"
)

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token of the control API.
// STOCKMETA_API_TOKEN wins; otherwise the token is read from the secret
// store and generated on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
