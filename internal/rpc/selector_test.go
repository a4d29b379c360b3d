package rpc

import (
	"errors"
	"testing"
	"time"
)

func twoProviderSetup(t *testing.T, strategy string) (*fakeClock, *Registry, *Tracker, *Selector) {
	t.Helper()
	clock := newFakeClock()
	reg := testRegistry(t, clock,
		ProviderConfig{Name: "primary", URL: "http://a.example", Priority: 1, Weight: 3, Enabled: true},
		ProviderConfig{Name: "backup", URL: "http://b.example", Priority: 2, Weight: 1, Enabled: true},
	)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)
	cfg := DefaultSelectorConfig()
	cfg.Strategy = strategy
	sel, err := NewSelector(reg, tracker, cfg, nil, 1)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	return clock, reg, tracker, sel
}

func TestPrioritySkipsRateLimitedAndRecovers(t *testing.T) {
	clock, _, tracker, sel := twoProviderSetup(t, StrategyPriority)

	name, err := sel.Select()
	if err != nil || name != "primary" {
		t.Fatalf("Select() = %q, %v; want primary", name, err)
	}

	// The primary takes a 429 and drops out for the cooldown.
	tracker.RecordFailure("primary", NewError(KindRateLimited, "primary", "getSlot", errors.New("429")))

	name, err = sel.Select()
	if err != nil || name != "backup" {
		t.Fatalf("Select() during cooldown = %q, %v; want backup", name, err)
	}

	// After the cooldown and backoff elapse the primary wins again.
	clock.advance(6 * time.Second)
	name, err = sel.Select()
	if err != nil || name != "primary" {
		t.Fatalf("Select() after cooldown = %q, %v; want primary", name, err)
	}
}

func TestRoundRobinVisitsEveryProviderOncePerCycle(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock,
		ProviderConfig{Name: "a", URL: "http://a", Enabled: true},
		ProviderConfig{Name: "b", URL: "http://b", Enabled: true},
		ProviderConfig{Name: "c", URL: "http://c", Enabled: true},
	)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)
	cfg := DefaultSelectorConfig()
	cfg.Strategy = StrategyRoundRobin
	sel, err := NewSelector(reg, tracker, cfg, nil, 1)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[string]int)
		for i := 0; i < 3; i++ {
			name, err := sel.Select()
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			seen[name]++
		}
		for _, name := range []string{"a", "b", "c"} {
			if seen[name] != 1 {
				t.Errorf("cycle %d: provider %s selected %d times, want 1", cycle, name, seen[name])
			}
		}
	}
}

func TestWeightedFavorsHeavierProvider(t *testing.T) {
	_, _, _, sel := twoProviderSetup(t, StrategyWeighted)

	counts := make(map[string]int)
	for i := 0; i < 400; i++ {
		name, err := sel.Select()
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[name]++
	}
	// primary carries weight 3 of 4; allow generous slack around 300.
	if counts["primary"] < 250 || counts["primary"] > 350 {
		t.Errorf("primary selected %d of 400 draws, want roughly 300", counts["primary"])
	}
}

func TestAdaptivePrefersHealthyProvider(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock,
		ProviderConfig{Name: "fast", URL: "http://a", Priority: 2, Enabled: true},
		ProviderConfig{Name: "slow", URL: "http://b", Priority: 1, Enabled: true},
	)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)
	cfg := DefaultSelectorConfig()
	cfg.Strategy = StrategyAdaptive
	sel, err := NewSelector(reg, tracker, cfg, nil, 1)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	// Degraded health outweighs the priority edge under the default weights.
	slow, _ := reg.Get("slow")
	slow.Health = HealthDegraded

	name, err := sel.Select()
	if err != nil || name != "fast" {
		t.Fatalf("Select() = %q, %v; want fast", name, err)
	}
}

func TestSelectFallsBackToLeastBadWhenAllDisqualified(t *testing.T) {
	_, reg, tracker, sel := twoProviderSetup(t, StrategyPriority)

	netErr := func(p string) error { return NewError(KindNetwork, p, "getSlot", errors.New("down")) }
	for i := 0; i < 3; i++ {
		tracker.RecordFailure("primary", netErr("primary"))
	}
	for i := 0; i < 4; i++ {
		tracker.RecordFailure("backup", netErr("backup"))
	}

	// Everything is in backoff and past the failure threshold; the selector
	// must still answer with the least-failed provider.
	name, err := sel.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if name != "primary" {
		t.Errorf("Select() = %q, want primary (3 failures vs 4)", name)
	}

	p, _ := reg.Get(name)
	if p == nil {
		t.Fatal("selected provider missing from registry")
	}
}

func TestSelectErrorsWithNoEnabledProviders(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock,
		ProviderConfig{Name: "off", URL: "http://a", Enabled: false},
	)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)
	sel, err := NewSelector(reg, tracker, DefaultSelectorConfig(), nil, 1)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	if _, err := sel.Select(); err == nil {
		t.Fatal("Select must fail when nothing is enabled")
	}
}

func TestNewSelectorRejectsUnknownStrategy(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)
	if _, err := NewSelector(reg, tracker, SelectorConfig{Strategy: "random"}, nil, 1); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
