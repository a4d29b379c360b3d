package rpc

import (
	"encoding/json"
	"time"
)

// ResultCacheConfig tunes the RPC result cache.
type ResultCacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSize int           `mapstructure:"max_size" yaml:"max_size"`

	// Methods lists the RPC methods whose results may be cached. Ledger
	// queries like getSlot tolerate short staleness; sendTransaction must
	// never be served from cache.
	Methods []string `mapstructure:"methods" yaml:"methods"`
}

// DefaultResultCacheConfig caches the read-mostly ledger queries that
// tolerate short staleness.
func DefaultResultCacheConfig() ResultCacheConfig {
	return ResultCacheConfig{
		TTL:     2 * time.Second,
		MaxSize: 512,
		Methods: []string{"getSlot", "getLatestBlockhash", "getBalance", "getAccountInfo", "getTokenAccountBalance"},
	}
}

// ResultCache memoizes raw RPC results by method and parameters.
type ResultCache struct {
	cache     *ttlCache[json.RawMessage]
	cacheable map[string]bool
}

// NewResultCache creates the cache.
func NewResultCache(cfg ResultCacheConfig, now func() time.Time) *ResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	cacheable := make(map[string]bool, len(cfg.Methods))
	for _, m := range cfg.Methods {
		cacheable[m] = true
	}
	return &ResultCache{
		cache:     newTTLCache[json.RawMessage](cfg.TTL, cfg.MaxSize, now),
		cacheable: cacheable,
	}
}

// Key builds the cache key from method and parameters. Params marshal
// deterministically for the slice-of-values shapes Solana RPC uses.
func (rc *ResultCache) Key(method string, params []interface{}) string {
	raw, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable params cannot collide with real keys.
		return method + ":!unkeyable"
	}
	return method + ":" + string(raw)
}

// Cacheable reports whether results for the method may be stored.
func (rc *ResultCache) Cacheable(method string) bool {
	return rc.cacheable[method]
}

// Get returns the stored payload for the key, unexpired entries only. The
// returned bytes are exactly those stored.
func (rc *ResultCache) Get(key string) (json.RawMessage, bool) {
	return rc.cache.Get(key)
}

// Put stores the payload under the key.
func (rc *ResultCache) Put(key string, payload json.RawMessage) {
	rc.cache.Put(key, payload)
}

// Sweep drops expired entries; wired into the scheduler.
func (rc *ResultCache) Sweep() int {
	return rc.cache.Sweep()
}

// Len returns the number of live entries.
func (rc *ResultCache) Len() int {
	return rc.cache.Len()
}

// Stats returns cumulative hit/miss counts.
func (rc *ResultCache) Stats() (hits, misses int64) {
	return rc.cache.Stats()
}
