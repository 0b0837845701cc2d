// internal/vault/vault.go
//
// Vault client wrapper for the panel.
//
// Context
// -------
//   - Wraps the HashiCorp Vault Go SDK behind the two operations the
//     config loader needs: "is this value a secret reference" and
//     "resolve it".
//   - References look like `vault:secret/panel/prod#jwt_secret`, i.e.
//     a KV-v2 path and a key separated by `#`.
//   - Resolved values are cached per canonical path#key so a config
//     reload does not hammer the server.
//   - A background loop renews the client token; a non-renewable token
//     simply re-probes hourly.
//
// Environment expectations
// ------------------------
// • VAULT_ADDR   – scheme and host of the Vault server.
// • VAULT_TOKEN  – initial token (falls back to ~/.vault-token).
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// RefPrefix marks a config value as a Vault secret reference.
const RefPrefix = "vault:"

// cacheTTL bounds how long a resolved secret is reused.  Config
// reloads inside the window see the cached copy.
const cacheTTL = 5 * time.Minute

// IsRef reports whether v names a Vault secret.
func IsRef(v string) bool { return strings.HasPrefix(v, RefPrefix) }

// Client is safe for concurrent use.  Create once and inject it; the
// zero value is invalid.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	cacheMu sync.RWMutex
	cache   map[string]cached
}

type cached struct {
	val string
	exp time.Time
}

// New constructs a Vault client from the environment and starts the
// token-renewal loop.
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

	c := &Client{
		api:   apiCli,
		logFn: logFn,
		cache: make(map[string]cached),
	}
	go c.renewLoop(ctx)
	return c, nil
}

// Resolve turns a `vault:path#key` reference into the secret value.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsRef(ref) {
		return ref, nil
	}
	spec := strings.TrimPrefix(ref, RefPrefix)
	path, key, ok := strings.Cut(spec, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("vault ref %q: want vault:<path>#<key>", ref)
	}
	return c.getKV(ctx, path, key)
}

// getKV fetches a single key from a KV-v2 secret, caching the result.
func (c *Client) getKV(ctx context.Context, secretPath, key string) (string, error) {
	canonical := secretPath + "#" + key

	c.cacheMu.RLock()
	if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
		c.cacheMu.RUnlock()
		return cv.val, nil
	}
	c.cacheMu.RUnlock()

	mount, rel, _ := strings.Cut(secretPath, "/")
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", errors.New("vault value at " + canonical + " is not a string")
	}

	c.cacheMu.Lock()
	c.cache[canonical] = cached{val: sval, exp: time.Now().Add(cacheTTL)}
	c.cacheMu.Unlock()
	return sval, nil
}

// renewLoop keeps the client token alive.  Renewal failures back off
// and retry; a non-renewable token is left alone and re-probed hourly.
func (c *Client) renewLoop(ctx context.Context) {
	for {
		sec, err := c.api.Auth().Token().RenewSelf(0)
		switch {
		case err != nil:
			c.logFn("vault: token renew failed: %v", err)
			if !sleep(ctx, 30*time.Second) {
				return
			}
		case sec == nil || sec.Auth == nil || !sec.Auth.Renewable:
			c.logFn("vault: token not renewable, probing hourly")
			if !sleep(ctx, time.Hour) {
				return
			}
		default:
			ttl := time.Duration(sec.Auth.LeaseDuration) * time.Second
			c.logFn("vault: token renewed, ttl=%s", ttl)
			// Renew again at two-thirds of the lease.
			if !sleep(ctx, ttl*2/3) {
				return
			}
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether to go on.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
