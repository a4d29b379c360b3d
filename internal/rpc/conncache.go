package rpc

import (
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// Connection is a cached RPC client bound to one provider and commitment
// level.
type Connection struct {
	Provider   string
	Commitment rpc.CommitmentType
	Client     *rpc.Client
}

// ConnCacheConfig tunes the connection cache.
type ConnCacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSize int           `mapstructure:"max_size" yaml:"max_size"`
}

// DefaultConnCacheConfig keeps connections briefly; clients are cheap to
// rebuild but reusing them keeps HTTP keep-alives warm.
func DefaultConnCacheConfig() ConnCacheConfig {
	return ConnCacheConfig{TTL: 60 * time.Second, MaxSize: 32}
}

// ConnCache memoizes one client per (provider, commitment) key.
type ConnCache struct {
	cache *ttlCache[*Connection]
	dial  func(url string) *rpc.Client
}

// NewConnCache creates the cache. dial may be nil, in which case clients are
// built against the provider URL directly; tests inject a dialer.
func NewConnCache(cfg ConnCacheConfig, now func() time.Time, dial func(url string) *rpc.Client) *ConnCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if dial == nil {
		dial = func(url string) *rpc.Client {
			return rpc.NewWithHeaders(url, map[string]string{
				"Content-Type": "application/json",
				"Connection":   "keep-alive",
			})
		}
	}
	return &ConnCache{
		cache: newTTLCache[*Connection](cfg.TTL, cfg.MaxSize, now),
		dial:  dial,
	}
}

// Get returns the cached connection for the provider and commitment,
// dialing on miss.
func (cc *ConnCache) Get(p ProviderConfig, commitment rpc.CommitmentType) *Connection {
	key := p.Name + "-" + string(commitment)
	if conn, ok := cc.cache.Get(key); ok {
		return conn
	}
	conn := &Connection{
		Provider:   p.Name,
		Commitment: commitment,
		Client:     cc.dial(p.URL),
	}
	cc.cache.Put(key, conn)
	return conn
}

// Sweep drops expired connections; wired into the scheduler.
func (cc *ConnCache) Sweep() int {
	return cc.cache.Sweep()
}

// Len returns the number of live connections.
func (cc *ConnCache) Len() int {
	return cc.cache.Len()
}
