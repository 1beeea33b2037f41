// internal/secret/secret.go
//
// Credential sealing for values stored at rest.
//
// Context
// -------
// Tenant database passwords live in the control database.  They are never
// written in plaintext: the tenant directory passes every credential through
// a Sealer before INSERT and back through it after SELECT.  Two Sealers ship
// with BlueOlive:
//
//   - Box      NaCl secretbox with a 32-byte key from configuration.  Output
//     is `box:` followed by base64(nonce || ciphertext).
//   - Transit  HashiCorp Vault Transit.  Output is Vault's own
//     `vault:v<n>:…` ciphertext, so keys can be rotated server-side.
//
// Open dispatches on the prefix, which lets an operator switch from Box to
// Transit without re-encrypting old rows in one go (see Chain).
//
// Notes
// -----
//   - Sealed strings are ASCII and fit a TEXT column.
//   - Sealers are safe for concurrent use.
package secret

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer encrypts and decrypts short secrets.
type Sealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

var (
	// ErrMalformed is returned when a sealed value cannot be parsed.
	ErrMalformed = errors.New("secret: malformed sealed value")
	// ErrUnsealed is returned when Open cannot authenticate the value.
	ErrUnsealed = errors.New("secret: cannot open sealed value")
	// ErrUnknownScheme is returned when no Sealer recognises the prefix.
	ErrUnknownScheme = errors.New("secret: unknown sealing scheme")
)

const (
	boxPrefix = "box:"
	keySize   = 32
	nonceSize = 24
)

//
// Box
//

// Box seals values with NaCl secretbox.
type Box struct {
	key [keySize]byte
}

// NewBox returns a Box for a 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secret: box key must be %d bytes, got %d", keySize, len(key))
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// ParseKey decodes a base64 (standard or URL alphabet) box key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if k, err := enc.DecodeString(s); err == nil && len(k) == keySize {
			return k, nil
		}
	}
	return nil, fmt.Errorf("secret: box key is not %d bytes of base64", keySize)
}

// Seal implements Sealer.
func (b *Box) Seal(_ context.Context, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return boxPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open implements Sealer.
func (b *Box) Open(_ context.Context, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, boxPrefix) {
		return "", ErrUnknownScheme
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, boxPrefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	pt, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrUnsealed
	}
	return string(pt), nil
}

//
// Chain
//

// Chain seals with its first Sealer and opens with whichever Sealer
// recognises the value.
type Chain []Sealer

// Seal implements Sealer.
func (c Chain) Seal(ctx context.Context, plaintext string) (string, error) {
	if len(c) == 0 {
		return "", ErrUnknownScheme
	}
	return c[0].Seal(ctx, plaintext)
}

// Open implements Sealer.
func (c Chain) Open(ctx context.Context, sealed string) (string, error) {
	for _, s := range c {
		pt, err := s.Open(ctx, sealed)
		if errors.Is(err, ErrUnknownScheme) {
			continue
		}
		return pt, err
	}
	return "", ErrUnknownScheme
}
