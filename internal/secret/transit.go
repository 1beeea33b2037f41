// internal/secret/transit.go
//
// Vault Transit Sealer.

package secret

import (
	"context"
	"fmt"
	"strings"
)

const transitPrefix = "vault:"

// TransitClient is the subset of the Vault client used by Transit.
// internal/vault.Client satisfies it.
type TransitClient interface {
	TransitEncrypt(ctx context.Context, key string, plaintext []byte) (string, error)
	TransitDecrypt(ctx context.Context, key, ciphertext string) ([]byte, error)
}

// Transit seals values through Vault's transit engine under one named key.
type Transit struct {
	client TransitClient
	key    string
}

// NewTransit returns a Transit sealer for key.
func NewTransit(c TransitClient, key string) *Transit {
	return &Transit{client: c, key: key}
}

// Seal implements Sealer.
func (t *Transit) Seal(ctx context.Context, plaintext string) (string, error) {
	ct, err := t.client.TransitEncrypt(ctx, t.key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("secret: transit seal: %w", err)
	}
	return ct, nil
}

// Open implements Sealer.
func (t *Transit) Open(ctx context.Context, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, transitPrefix) {
		return "", ErrUnknownScheme
	}
	pt, err := t.client.TransitDecrypt(ctx, t.key, sealed)
	if err != nil {
		return "", fmt.Errorf("secret: transit open: %w", err)
	}
	return string(pt), nil
}
