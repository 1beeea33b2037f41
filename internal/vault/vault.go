// internal/vault/vault.go
//
// Vault client wrapper for BlueOlive.
//
// Context
// -------
//   - Provides a concurrency-safe client around the HashiCorp Vault Go SDK.
//   - Adds background token renewal, KV-v2 lookups with per-key caching, and
//     Transit encrypt / decrypt for tenant database credentials.
//   - `Resolve` understands the `vault:<mount>/<path>#<key>` references that
//     the config loader finds in YAML or environment values.
//
// Public workflow
// ---------------
//  1. cli, err := vault.New(ctx, zap.S().Infof)              // during boot.
//  2. pw,  err := cli.GetKV(ctx, path, key, ttl)             // config values.
//  3. ct,  err := cli.TransitEncrypt(ctx, "tenants", pw)     // sealing.
//
// Notes
// -----
//   - VAULT_ADDR and VAULT_TOKEN are read by the SDK's ReadEnvironment.
//   - The Transit mount defaults to "transit"; override with VAULT_TRANSIT_MOUNT.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// RefPrefix marks a configuration value that must be fetched from Vault.
const RefPrefix = "vault:"

// DefaultTTL caches resolved configuration secrets for the process lifetime
// of a typical deploy.
const DefaultTTL = 10 * time.Minute

//
// Client
//

// Client is safe for concurrent use.  Create once at startup.  Zero value is
// invalid.
type Client struct {
	api          *vault.Client
	logFn        func(string, ...any)
	transitMount string

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client and starts a background token-renewal loop
// bound to ctx.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	mount := os.Getenv("VAULT_TRANSIT_MOUNT")
	if mount == "" {
		mount = "transit"
	}

	c := &Client{
		api:          apiCli,
		logFn:        logFn,
		transitMount: mount,
		cache:        make(map[string]cached),
	}
	go c.renewLoop(ctx)
	return c, nil
}

// GetKV fetches a single key from a KV-v2 secret.  If ttl > 0 the result is
// cached for that duration.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("vault: secret path and key must be non-empty")
	}

	canonical := secretPath + "#" + key
	if ttl > 0 {
		c.cacheMu.RLock()
		cv, ok := c.cache[canonical]
		c.cacheMu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, rel := splitMount(secretPath)
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("vault: key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault: value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: sval, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}
	return sval, nil
}

// Resolve fetches the secret named by a `vault:<mount>/<path>#<key>`
// reference.  Values without the prefix are returned unchanged.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	path, key, ok := ParseRef(ref)
	if !ok {
		return ref, nil
	}
	return c.GetKV(ctx, path, key, DefaultTTL)
}

// ParseRef splits a `vault:` reference.  ok is false for plain values.
func ParseRef(ref string) (path, key string, ok bool) {
	if !strings.HasPrefix(ref, RefPrefix) {
		return "", "", false
	}
	body := strings.TrimPrefix(ref, RefPrefix)
	i := strings.LastIndexByte(body, '#')
	if i <= 0 || i == len(body)-1 {
		return "", "", false
	}
	return body[:i], body[i+1:], true
}

//
// Transit
//

// TransitEncrypt encrypts plaintext under the named transit key and returns
// Vault's `vault:v<n>:` ciphertext.
func (c *Client) TransitEncrypt(ctx context.Context, key string, plaintext []byte) (string, error) {
	sec, err := c.api.Logical().WriteWithContext(ctx,
		c.transitMount+"/encrypt/"+key,
		map[string]any{"plaintext": base64.StdEncoding.EncodeToString(plaintext)},
	)
	if err != nil {
		return "", fmt.Errorf("vault transit encrypt: %w", err)
	}
	if sec == nil || sec.Data == nil {
		return "", errors.New("vault transit encrypt: empty response")
	}
	ct, ok := sec.Data["ciphertext"].(string)
	if !ok {
		return "", errors.New("vault transit encrypt: ciphertext missing")
	}
	return ct, nil
}

// TransitDecrypt reverses TransitEncrypt.
func (c *Client) TransitDecrypt(ctx context.Context, key, ciphertext string) ([]byte, error) {
	sec, err := c.api.Logical().WriteWithContext(ctx,
		c.transitMount+"/decrypt/"+key,
		map[string]any{"ciphertext": ciphertext},
	)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: %w", err)
	}
	if sec == nil || sec.Data == nil {
		return nil, errors.New("vault transit decrypt: empty response")
	}
	b64, ok := sec.Data["plaintext"].(string)
	if !ok {
		return nil, errors.New("vault transit decrypt: plaintext missing")
	}
	return base64.StdEncoding.DecodeString(b64)
}

//
// Background token renewal
//

func (c *Client) renewLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sec, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			c.logFn("vault: token renew self failed: %v", err)
			backoff(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.logFn("vault: token is not renewable, sleeping 1h")
			backoff(ctx, time.Hour)
			continue
		}

		watcher, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
			Secret: sec,
		})
		if err != nil {
			c.logFn("vault: lifetime watcher init error: %v", err)
			backoff(ctx, 30*time.Second)
			continue
		}

		go watcher.Start()
		if !c.watch(ctx, watcher) {
			return
		}
		backoff(ctx, 15*time.Second)
	}
}

// watch drains watcher events until the token can no longer be renewed.
// It returns false when ctx is cancelled.
func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) bool {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-w.DoneCh():
			if err != nil {
				c.logFn("vault: token renewal stopped: %v", err)
			}
			return true
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.logFn("vault: token renewed, ttl=%ds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

//
// Helpers
//

func splitMount(p string) (mount, rel string) {
	parts := strings.SplitN(p, "/", 2)
	mount = parts[0]
	if len(parts) == 2 {
		rel = parts[1]
	}
	return
}

func backoff(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
