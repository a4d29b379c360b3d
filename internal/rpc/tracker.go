package rpc

import (
	"time"
)

// TrackerConfig tunes health and rate accounting.
type TrackerConfig struct {
	// MaxConsecutiveFailures disqualifies a provider from normal selection
	// and marks it down once reached.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`

	// RateLimitCooldown is how long a provider stays excluded after a 429.
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown" yaml:"rate_limit_cooldown"`

	// BackoffBase is the unit for exponential backoff after generic failures.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`

	// BackoffCap bounds the computed backoff.
	BackoffCap time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap"`

	// SlotStaleAfter degrades a provider whose slot subscription has gone
	// quiet. Zero disables staleness checks.
	SlotStaleAfter time.Duration `mapstructure:"slot_stale_after" yaml:"slot_stale_after"`
}

// DefaultTrackerConfig returns the stock thresholds and cool-downs.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxConsecutiveFailures: 3,
		RateLimitCooldown:      5 * time.Second,
		BackoffBase:            time.Second,
		BackoffCap:             30 * time.Second,
		SlotStaleAfter:         30 * time.Second,
	}
}

// Tracker maintains per-provider health and rate state. Window counters are
// reset lazily when touched, not by a timer per window.
type Tracker struct {
	registry *Registry
	cfg      TrackerConfig
	metrics  *Metrics
}

// NewTracker creates a tracker over the registry.
func NewTracker(registry *Registry, cfg TrackerConfig, metrics *Metrics) *Tracker {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &Tracker{registry: registry, cfg: cfg, metrics: metrics}
}

// rollWindows resets any counter whose window has elapsed since its last reset.
func rollWindows(p *Provider, now time.Time) {
	if now.Sub(p.SecondResetAt) >= time.Second {
		p.SecondCount = 0
		p.SecondResetAt = now
	}
	if now.Sub(p.MinuteResetAt) >= time.Minute {
		p.MinuteCount = 0
		p.MinuteResetAt = now
	}
	if now.Sub(p.HourResetAt) >= time.Hour {
		p.HourCount = 0
		p.HourResetAt = now
	}
}

// atCeiling reports whether any configured window is exhausted.
func atCeiling(p *Provider) bool {
	if p.Config.MaxPerSecond > 0 && p.SecondCount >= p.Config.MaxPerSecond {
		return true
	}
	if p.Config.MaxPerMinute > 0 && p.MinuteCount >= p.Config.MaxPerMinute {
		return true
	}
	if p.Config.MaxPerHour > 0 && p.HourCount >= p.Config.MaxPerHour {
		return true
	}
	return false
}

// Allow checks the provider's windows and, when under every ceiling, counts
// the attempt. Best-effort gating: there is no reservation across the call.
func (t *Tracker) Allow(name string) bool {
	allowed := false
	t.registry.withProvider(name, func(p *Provider, now time.Time) {
		rollWindows(p, now)
		if atCeiling(p) {
			return
		}
		p.SecondCount++
		p.MinuteCount++
		p.HourCount++
		p.TotalRequests++
		allowed = true
	})
	return allowed
}

// RecordSuccess clears failure state and folds the observed latency into the
// provider's rolling window.
func (t *Tracker) RecordSuccess(name string, latency time.Duration) {
	t.registry.withProvider(name, func(p *Provider, now time.Time) {
		p.ConsecutiveFail = 0
		p.BackoffUntil = time.Time{}
		if p.Health != HealthHealthy && !p.rateLimited(now) {
			p.Health = HealthHealthy
		}

		if len(p.latencies) >= latencyWindowSize {
			p.latencies = p.latencies[1:]
		}
		p.latencies = append(p.latencies, latency)
		var sum time.Duration
		for _, d := range p.latencies {
			sum += d
		}
		p.AvgLatency = sum / time.Duration(len(p.latencies))
	})
	if t.metrics != nil {
		t.metrics.ObserveRequest(name, latency, nil)
	}
}

// RecordFailure bumps failure counters and applies backoff. Rate-limit kinds
// additionally start the fixed cool-down. Business failures count against
// nothing: the provider answered, the request was just wrong.
func (t *Tracker) RecordFailure(name string, err error) {
	kind := KindOf(err)
	if kind == KindBusiness {
		if t.metrics != nil {
			t.metrics.ObserveRequest(name, 0, err)
		}
		return
	}
	t.registry.withProvider(name, func(p *Provider, now time.Time) {
		p.TotalFailures++
		p.ConsecutiveFail++

		backoff := t.cfg.BackoffBase << uint(p.ConsecutiveFail)
		if backoff > t.cfg.BackoffCap || backoff <= 0 {
			backoff = t.cfg.BackoffCap
		}
		p.BackoffUntil = now.Add(backoff)

		if kind == KindRateLimited {
			p.RateLimitedUntil = now.Add(t.cfg.RateLimitCooldown)
			if p.Health == HealthHealthy {
				p.Health = HealthDegraded
			}
		}
		if p.ConsecutiveFail >= t.cfg.MaxConsecutiveFailures {
			p.Health = HealthDown
		} else if p.Health == HealthHealthy {
			p.Health = HealthDegraded
		}
	})
	if t.metrics != nil {
		t.metrics.ObserveRequest(name, 0, err)
	}
}

// RecordSlot feeds a slot observation from the websocket watcher.
func (t *Tracker) RecordSlot(name string, slot uint64) {
	t.registry.withProvider(name, func(p *Provider, now time.Time) {
		p.LastSlot = slot
		p.LastSlotAt = now
	})
}

// SweepStaleness degrades providers whose slot feed has gone quiet. Run from
// the scheduler; providers without a ws endpoint are untouched.
func (t *Tracker) SweepStaleness() {
	if t.cfg.SlotStaleAfter <= 0 {
		return
	}
	t.registry.withProviders(func(providers []*Provider, now time.Time) {
		for _, p := range providers {
			if p.Config.WSURL == "" || p.LastSlotAt.IsZero() {
				continue
			}
			if now.Sub(p.LastSlotAt) > t.cfg.SlotStaleAfter && p.Health == HealthHealthy {
				p.Health = HealthDegraded
			}
		}
	})
}

// MaxConsecutiveFailures exposes the disqualification threshold to the selector.
func (t *Tracker) MaxConsecutiveFailures() int {
	return t.cfg.MaxConsecutiveFailures
}
