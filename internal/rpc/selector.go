package rpc

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Strategy names accepted in configuration.
const (
	StrategyPriority   = "priority"
	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
	StrategyAdaptive   = "adaptive"
)

// SelectorConfig tunes provider selection.
type SelectorConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// Adaptive score weights. Lowest score wins.
	HealthPenalty     float64 `mapstructure:"health_penalty" yaml:"health_penalty"`
	LatencyWeight     float64 `mapstructure:"latency_weight" yaml:"latency_weight"`
	UtilizationWeight float64 `mapstructure:"utilization_weight" yaml:"utilization_weight"`
	PriorityWeight    float64 `mapstructure:"priority_weight" yaml:"priority_weight"`
}

// DefaultSelectorConfig returns priority selection with the stock adaptive
// weights.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Strategy:          StrategyPriority,
		HealthPenalty:     10,
		LatencyWeight:     2,
		UtilizationWeight: 3,
		PriorityWeight:    1,
	}
}

// Selector picks one provider from the registry per call.
type Selector struct {
	registry *Registry
	tracker  *Tracker
	cfg      SelectorConfig
	metrics  *Metrics

	mu     sync.Mutex
	cursor int
	rng    *rand.Rand
}

// NewSelector creates a selector. A nil rng source falls back to a
// time-seeded one; tests inject a fixed seed.
func NewSelector(registry *Registry, tracker *Tracker, cfg SelectorConfig, metrics *Metrics, seed int64) (*Selector, error) {
	switch cfg.Strategy {
	case StrategyPriority, StrategyRoundRobin, StrategyWeighted, StrategyAdaptive:
	case "":
		cfg.Strategy = StrategyPriority
	default:
		return nil, fmt.Errorf("unknown selection strategy: %s", cfg.Strategy)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Selector{
		registry: registry,
		tracker:  tracker,
		cfg:      cfg,
		metrics:  metrics,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// eligible returns providers passing the selection filter, in registry order.
func (s *Selector) eligible(providers []*Provider, now time.Time) []*Provider {
	threshold := s.tracker.MaxConsecutiveFailures()
	var out []*Provider
	for _, p := range providers {
		if !p.Config.Enabled || p.Config.URL == "" {
			continue
		}
		if p.rateLimited(now) || p.inBackoff(now) {
			continue
		}
		if p.ConsecutiveFail >= threshold {
			continue
		}
		out = append(out, p)
	}
	return out
}

// leastBad picks the enabled provider with the fewest consecutive failures,
// the fallback when every provider is disqualified. Registry order breaks ties.
func leastBad(providers []*Provider) *Provider {
	var best *Provider
	for _, p := range providers {
		if !p.Config.Enabled || p.Config.URL == "" {
			continue
		}
		if best == nil || p.ConsecutiveFail < best.ConsecutiveFail {
			best = p
		}
	}
	return best
}

// Select returns the name of the chosen provider.
func (s *Selector) Select() (string, error) {
	var chosen *Provider
	var selErr error

	s.registry.withProviders(func(providers []*Provider, now time.Time) {
		pool := s.eligible(providers, now)
		if len(pool) == 0 {
			chosen = leastBad(providers)
			if chosen == nil {
				selErr = fmt.Errorf("no enabled providers")
			}
			return
		}
		switch s.cfg.Strategy {
		case StrategyRoundRobin:
			chosen = s.pickRoundRobin(pool)
		case StrategyWeighted:
			chosen = s.pickWeighted(pool)
		case StrategyAdaptive:
			chosen = s.pickAdaptive(pool)
		default:
			chosen = pickPriority(pool)
		}
	})
	if selErr != nil {
		return "", selErr
	}
	if s.metrics != nil {
		s.metrics.ObserveSelection(s.cfg.Strategy, chosen.Config.Name)
	}
	return chosen.Config.Name, nil
}

// pickPriority takes the lowest priority number; registry order breaks ties.
func pickPriority(pool []*Provider) *Provider {
	best := pool[0]
	for _, p := range pool[1:] {
		if p.Config.Priority < best.Config.Priority {
			best = p
		}
	}
	return best
}

// pickRoundRobin cycles a cursor over the eligible set. The cursor counts
// selections, not positions, so a shrinking pool cannot skip members.
func (s *Selector) pickRoundRobin(pool []*Provider) *Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pool[s.cursor%len(pool)]
	s.cursor++
	return p
}

// pickWeighted draws proportionally to static weights.
func (s *Selector) pickWeighted(pool []*Provider) *Provider {
	total := 0
	for _, p := range pool {
		total += p.Config.Weight
	}
	s.mu.Lock()
	n := s.rng.Intn(total)
	s.mu.Unlock()
	for _, p := range pool {
		n -= p.Config.Weight
		if n < 0 {
			return p
		}
	}
	return pool[len(pool)-1]
}

// pickAdaptive scores each provider; lowest score wins. Latency is
// normalized against the slowest average in the pool.
func (s *Selector) pickAdaptive(pool []*Provider) *Provider {
	var maxLatency time.Duration
	for _, p := range pool {
		if p.AvgLatency > maxLatency {
			maxLatency = p.AvgLatency
		}
	}

	best := pool[0]
	bestScore := s.score(pool[0], maxLatency)
	for _, p := range pool[1:] {
		if sc := s.score(p, maxLatency); sc < bestScore {
			best = p
			bestScore = sc
		}
	}
	return best
}

func (s *Selector) score(p *Provider, maxLatency time.Duration) float64 {
	score := s.cfg.PriorityWeight * float64(p.Config.Priority)
	if p.Health == HealthDegraded {
		score += s.cfg.HealthPenalty
	} else if p.Health == HealthDown {
		score += 2 * s.cfg.HealthPenalty
	}
	if maxLatency > 0 {
		score += s.cfg.LatencyWeight * float64(p.AvgLatency) / float64(maxLatency)
	}
	score += s.cfg.UtilizationWeight * p.utilization()
	return score
}
