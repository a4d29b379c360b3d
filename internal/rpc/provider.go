package rpc

import (
	"fmt"
	"sync"
	"time"
)

// HealthStatus describes a provider's current standing.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// ProviderConfig is the static description of one RPC endpoint.
type ProviderConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	URL      string `mapstructure:"url" yaml:"url"`
	WSURL    string `mapstructure:"ws_url" yaml:"ws_url"`
	Priority int    `mapstructure:"priority" yaml:"priority"` // lower = preferred
	Weight   int    `mapstructure:"weight" yaml:"weight"`
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`

	// Request ceilings per window; zero means unlimited.
	MaxPerSecond int `mapstructure:"max_per_second" yaml:"max_per_second"`
	MaxPerMinute int `mapstructure:"max_per_minute" yaml:"max_per_minute"`
	MaxPerHour   int `mapstructure:"max_per_hour" yaml:"max_per_hour"`
}

// latencyWindowSize bounds the rolling response-time sample buffer.
const latencyWindowSize = 64

// Provider is the mutable runtime state for one endpoint. Created once at
// startup, mutated for the process lifetime, guarded by the Registry lock.
type Provider struct {
	Config ProviderConfig

	// Window counters with lazy resets.
	SecondCount     int
	MinuteCount     int
	HourCount       int
	SecondResetAt   time.Time
	MinuteResetAt   time.Time
	HourResetAt     time.Time
	TotalRequests   int64
	TotalFailures   int64
	ConsecutiveFail int

	Health           HealthStatus
	RateLimitedUntil time.Time
	BackoffUntil     time.Time

	latencies  []time.Duration
	AvgLatency time.Duration

	// Fed by the slot watcher when a ws endpoint is configured.
	LastSlot   uint64
	LastSlotAt time.Time
}

func newProvider(cfg ProviderConfig, now time.Time) *Provider {
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	return &Provider{
		Config:        cfg,
		Health:        HealthHealthy,
		SecondResetAt: now,
		MinuteResetAt: now,
		HourResetAt:   now,
		latencies:     make([]time.Duration, 0, latencyWindowSize),
	}
}

// rateLimited reports whether the cool-down from a 429 is still in force.
func (p *Provider) rateLimited(now time.Time) bool {
	return now.Before(p.RateLimitedUntil)
}

// inBackoff reports whether the exponential backoff deadline is still in force.
func (p *Provider) inBackoff(now time.Time) bool {
	return now.Before(p.BackoffUntil)
}

// utilization returns current use of the tightest configured window, in [0,1].
func (p *Provider) utilization() float64 {
	worst := 0.0
	if p.Config.MaxPerSecond > 0 {
		worst = max64(worst, float64(p.SecondCount)/float64(p.Config.MaxPerSecond))
	}
	if p.Config.MaxPerMinute > 0 {
		worst = max64(worst, float64(p.MinuteCount)/float64(p.Config.MaxPerMinute))
	}
	if p.Config.MaxPerHour > 0 {
		worst = max64(worst, float64(p.HourCount)/float64(p.Config.MaxPerHour))
	}
	return worst
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ProviderSnapshot is the exported view of provider state, used by the
// stats snapshot file and the metrics exporter.
type ProviderSnapshot struct {
	Name            string        `json:"name"`
	Health          HealthStatus  `json:"health"`
	TotalRequests   int64         `json:"total_requests"`
	TotalFailures   int64         `json:"total_failures"`
	ConsecutiveFail int           `json:"consecutive_failures"`
	AvgLatencyMs    int64         `json:"avg_latency_ms"`
	RateLimited     bool          `json:"rate_limited"`
	Utilization     float64       `json:"utilization"`
	AvgLatency      time.Duration `json:"-"`
}

// Registry holds every configured provider. The slice order is the registry
// order and never changes after construction; selection tie-breaks rely on it.
type Registry struct {
	mu        sync.Mutex
	providers []*Provider
	byName    map[string]*Provider
	now       func() time.Time
}

// NewRegistry builds the provider table from static configuration.
func NewRegistry(configs []ProviderConfig, now func() time.Time) (*Registry, error) {
	if now == nil {
		now = time.Now
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	r := &Registry{byName: make(map[string]*Provider), now: now}
	t := now()
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("provider with empty name")
		}
		if _, dup := r.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate provider name: %s", cfg.Name)
		}
		p := newProvider(cfg, t)
		r.providers = append(r.providers, p)
		r.byName[cfg.Name] = p
	}
	return r, nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	return p, ok
}

// Names returns provider names in registry order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Config.Name)
	}
	return names
}

// EnabledNames returns the names of enabled providers with a URL, in
// registry order. Disabled entries never receive traffic, not even as a
// fallback; their URLs may be unexpanded placeholders.
func (r *Registry) EnabledNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Config.Enabled && p.Config.URL != "" {
			names = append(names, p.Config.Name)
		}
	}
	return names
}

// Snapshots returns the exported state of every provider in registry order.
func (r *Registry) Snapshots() []ProviderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProviderSnapshot, 0, len(r.providers))
	t := r.now()
	for _, p := range r.providers {
		out = append(out, ProviderSnapshot{
			Name:            p.Config.Name,
			Health:          p.Health,
			TotalRequests:   p.TotalRequests,
			TotalFailures:   p.TotalFailures,
			ConsecutiveFail: p.ConsecutiveFail,
			AvgLatencyMs:    p.AvgLatency.Milliseconds(),
			AvgLatency:      p.AvgLatency,
			RateLimited:     p.rateLimited(t),
			Utilization:     p.utilization(),
		})
	}
	return out
}

// RestoreTotals warms lifetime counters from a persisted snapshot. Window
// counters and cool-downs are deliberately not restored; they are only
// meaningful within the process that observed them.
func (r *Registry) RestoreTotals(snaps []ProviderSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snaps {
		if p, ok := r.byName[s.Name]; ok {
			p.TotalRequests = s.TotalRequests
			p.TotalFailures = s.TotalFailures
		}
	}
}

// withProviders runs fn with the lock held over the registry-ordered slice.
func (r *Registry) withProviders(fn func(providers []*Provider, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.providers, r.now())
}

// withProvider runs fn with the lock held for a single provider.
func (r *Registry) withProvider(name string, fn func(p *Provider, now time.Time)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byName[name]
	if !ok {
		return false
	}
	fn(p, r.now())
	return true
}
