package rpc

import (
	"errors"
	"testing"
	"time"
)

// fakeClock provides a hand-advanced time source for deterministic tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func testRegistry(t *testing.T, clock *fakeClock, configs ...ProviderConfig) *Registry {
	t.Helper()
	if len(configs) == 0 {
		configs = []ProviderConfig{{Name: "p1", URL: "http://p1.example", Enabled: true}}
	}
	reg, err := NewRegistry(configs, clock.now)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestAllowCountsAndGates(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock, ProviderConfig{
		Name: "p1", URL: "http://p1.example", Enabled: true, MaxPerSecond: 2,
	})
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	if !tracker.Allow("p1") || !tracker.Allow("p1") {
		t.Fatal("first two requests within the window must pass")
	}
	if tracker.Allow("p1") {
		t.Fatal("third request must be gated by max_per_second=2")
	}

	// The window resets lazily once a second has elapsed.
	clock.advance(time.Second)
	if !tracker.Allow("p1") {
		t.Fatal("request after window rollover must pass")
	}

	p, _ := reg.Get("p1")
	if p.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3 (gated attempts do not count)", p.TotalRequests)
	}
}

func TestRecordFailureBackoffDoubles(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, TrackerConfig{
		MaxConsecutiveFailures: 10,
		BackoffBase:            time.Second,
		BackoffCap:             30 * time.Second,
		RateLimitCooldown:      5 * time.Second,
	}, nil)

	netErr := NewError(KindNetwork, "p1", "getSlot", errors.New("boom"))
	p, _ := reg.Get("p1")

	wants := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, want := range wants {
		tracker.RecordFailure("p1", netErr)
		if got := p.BackoffUntil.Sub(clock.now()); got != want {
			t.Errorf("failure %d: backoff = %v, want %v", i+1, got, want)
		}
	}
}

func TestRecordFailureRateLimitCooldown(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	tracker.RecordFailure("p1", NewError(KindRateLimited, "p1", "getSlot", errors.New("429")))

	p, _ := reg.Get("p1")
	if !p.rateLimited(clock.now()) {
		t.Fatal("provider must be excluded right after a 429")
	}
	if p.Health != HealthDegraded {
		t.Errorf("health = %s, want %s", p.Health, HealthDegraded)
	}

	clock.advance(5 * time.Second)
	if p.rateLimited(clock.now()) {
		t.Fatal("provider must be eligible again once the cooldown elapses")
	}
}

func TestBusinessFailuresLeaveProviderAlone(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	tracker.RecordFailure("p1", NewError(KindBusiness, "p1", "getBalance", errors.New("invalid params")))

	p, _ := reg.Get("p1")
	if p.TotalFailures != 0 || p.ConsecutiveFail != 0 {
		t.Errorf("business failure mutated provider state: failures=%d consecutive=%d",
			p.TotalFailures, p.ConsecutiveFail)
	}
	if p.Health != HealthHealthy {
		t.Errorf("health = %s, want %s", p.Health, HealthHealthy)
	}
}

func TestRecordSuccessResetsFailureState(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	netErr := NewError(KindNetwork, "p1", "getSlot", errors.New("boom"))
	tracker.RecordFailure("p1", netErr)
	tracker.RecordFailure("p1", netErr)

	p, _ := reg.Get("p1")
	if p.ConsecutiveFail != 2 {
		t.Fatalf("ConsecutiveFail = %d, want 2", p.ConsecutiveFail)
	}

	tracker.RecordSuccess("p1", 40*time.Millisecond)
	if p.ConsecutiveFail != 0 {
		t.Errorf("ConsecutiveFail = %d after success, want 0", p.ConsecutiveFail)
	}
	if !p.BackoffUntil.IsZero() {
		t.Error("backoff must be cleared on success")
	}
	if p.Health != HealthHealthy {
		t.Errorf("health = %s, want %s", p.Health, HealthHealthy)
	}
	if p.AvgLatency != 40*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 40ms", p.AvgLatency)
	}
}

func TestConsecutiveFailuresMarkDown(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock)
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	netErr := NewError(KindNetwork, "p1", "getSlot", errors.New("boom"))
	for i := 0; i < 3; i++ {
		tracker.RecordFailure("p1", netErr)
	}

	p, _ := reg.Get("p1")
	if p.Health != HealthDown {
		t.Errorf("health = %s after 3 consecutive failures, want %s", p.Health, HealthDown)
	}
}

func TestSweepStalenessDegradesQuietSlotFeed(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, clock, ProviderConfig{
		Name: "p1", URL: "http://p1.example", WSURL: "ws://p1.example", Enabled: true,
	})
	tracker := NewTracker(reg, DefaultTrackerConfig(), nil)

	tracker.RecordSlot("p1", 1000)
	tracker.SweepStaleness()
	p, _ := reg.Get("p1")
	if p.Health != HealthHealthy {
		t.Fatalf("fresh slot feed degraded: %s", p.Health)
	}

	clock.advance(31 * time.Second)
	tracker.SweepStaleness()
	if p.Health != HealthDegraded {
		t.Errorf("health = %s after stale slot feed, want %s", p.Health, HealthDegraded)
	}
}
