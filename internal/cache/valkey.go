package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

// ValkeyConfig mirrors infrastructure/valkey.Config from the teacher app.
type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// ValkeyTTLCache is the distributed tier for the caches spec §5 calls
// "process-wide" when a deployment runs more than one relay process
// behind a shared store. It is structurally interchangeable with
// TTLCache for the string/JSON-serializable values the relay core caches.
type ValkeyTTLCache struct {
	inner     valkeylib.Client
	keyPrefix string
	ttl       time.Duration
}

// NewValkeyTTLCache dials Valkey and verifies connectivity before returning,
// the same fail-fast contract as infrastructure/valkey.NewClient.
func NewValkeyTTLCache(cfg ValkeyConfig, ttl time.Duration) (*ValkeyTTLCache, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("cache: failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyTTLCache{inner: inner, keyPrefix: prefix, ttl: ttl}, nil
}

func (c *ValkeyTTLCache) key(k string) string {
	return c.keyPrefix + k
}

// GetJSON unmarshals the cached value for key into dst, returning false if absent.
func (c *ValkeyTTLCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	resp := c.inner.Do(ctx, c.inner.B().Get().Key(c.key(key)).Build())
	raw, err := resp.ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("cache: valkey get failed: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("cache: failed to decode cached value: %w", err)
	}
	return true, nil
}

// SetJSON marshals value and stores it with the cache's configured TTL.
func (c *ValkeyTTLCache) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to encode value: %w", err)
	}
	err = c.inner.Do(ctx, c.inner.B().Set().Key(c.key(key)).Value(string(raw)).Ex(c.ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("cache: valkey set failed: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *ValkeyTTLCache) Delete(ctx context.Context, key string) error {
	return c.inner.Do(ctx, c.inner.B().Del().Key(c.key(key)).Build()).Error()
}

// Close releases the underlying connection.
func (c *ValkeyTTLCache) Close() {
	if c.inner != nil {
		c.inner.Close()
	}
}
