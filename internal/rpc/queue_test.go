package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubExecutor scripts call outcomes and records dispatch order.
type stubExecutor struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]error
	payload json.RawMessage
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		results: make(map[string][]error),
		payload: json.RawMessage(`"ok"`),
	}
}

func (s *stubExecutor) fail(method string, errs ...error) {
	s.results[method] = append(s.results[method], errs...)
}

func (s *stubExecutor) ExecuteWithFallback(ctx context.Context, method string, params []interface{}, out interface{}) error {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	var err error
	if queue := s.results[method]; len(queue) > 0 {
		err = queue[0]
		s.results[method] = queue[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = s.payload
	}
	return nil
}

func (s *stubExecutor) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestQueueDrainsByPriorityThenSubmission(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	q := NewQueue(QueueConfig{DrainInterval: 25 * time.Millisecond, MaxRetries: 0}, exec, nil, clock.now)

	ctx := context.Background()
	q.Enqueue(ctx, PriorityLow, "low1", nil)
	clock.advance(time.Millisecond)
	q.Enqueue(ctx, PriorityNormal, "normal1", nil)
	clock.advance(time.Millisecond)
	q.Enqueue(ctx, PriorityHigh, "high1", nil)
	clock.advance(time.Millisecond)
	q.Enqueue(ctx, PriorityHigh, "high2", nil)

	// Batching disabled: one request per drain, strictly by tier then age.
	for i := 0; i < 4; i++ {
		if n := q.Drain(); n != 1 {
			t.Fatalf("drain %d dispatched %d, want 1", i, n)
		}
	}

	want := []string{"high1", "high2", "normal1", "low1"}
	got := exec.callOrder()
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestQueueBatchingDispatchesConcurrently(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	q := NewQueue(QueueConfig{
		DrainInterval:  25 * time.Millisecond,
		EnableBatching: true,
		BatchSize:      2,
	}, exec, nil, clock.now)

	ctx := context.Background()
	for _, m := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, PriorityNormal, m, nil)
	}

	if n := q.Drain(); n != 2 {
		t.Fatalf("first drain dispatched %d, want batch of 2", n)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d after first drain, want 1", q.Len())
	}
}

func TestQueueRetriesWithBackoffThenSucceeds(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	exec.fail("getSlot", NewError(KindNetwork, "p1", "getSlot", errors.New("down")))
	q := NewQueue(QueueConfig{
		DrainInterval: 25 * time.Millisecond,
		MaxRetries:    3,
		RetryDelay:    500 * time.Millisecond,
	}, exec, nil, clock.now)

	pending := q.Enqueue(context.Background(), PriorityNormal, "getSlot", nil)

	q.Drain()
	if q.Len() != 1 {
		t.Fatal("failed request must be re-enqueued")
	}

	// Still inside the retry delay: nothing is ready.
	if n := q.Drain(); n != 0 {
		t.Fatalf("drained %d during retry delay, want 0", n)
	}

	// First retry waits RetryDelay << 1.
	clock.advance(time.Second)
	if n := q.Drain(); n != 1 {
		t.Fatalf("drained %d after retry delay, want 1", n)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := pending.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(raw) != `"ok"` {
		t.Errorf("result = %s, want \"ok\"", raw)
	}
}

func TestQueueBusinessErrorIsTerminal(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	bizErr := NewError(KindBusiness, "p1", "getBalance", errors.New("invalid address"))
	exec.fail("getBalance", bizErr)
	q := NewQueue(QueueConfig{DrainInterval: 25 * time.Millisecond, MaxRetries: 3}, exec, nil, clock.now)

	pending := q.Enqueue(context.Background(), PriorityNormal, "getBalance", nil)
	q.Drain()

	if q.Len() != 0 {
		t.Fatal("business failure must not be re-enqueued")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := pending.Wait(waitCtx); !errors.Is(err, bizErr) {
		t.Errorf("Wait returned %v, want the business error", err)
	}
}

func TestQueueExhaustsRetryBudget(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	netErr := NewError(KindNetwork, "p1", "getSlot", errors.New("down"))
	exec.fail("getSlot", netErr, netErr, netErr)
	q := NewQueue(QueueConfig{
		DrainInterval: 25 * time.Millisecond,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
	}, exec, nil, clock.now)

	pending := q.Enqueue(context.Background(), PriorityNormal, "getSlot", nil)
	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		q.Drain()
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := pending.Wait(waitCtx); err == nil {
		t.Fatal("expected terminal failure after retry budget")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after exhausted retries, want 0", q.Len())
	}
}

func TestQueueDropsCancelledRequests(t *testing.T) {
	clock := newFakeClock()
	exec := newStubExecutor()
	q := NewQueue(DefaultQueueConfig(), exec, nil, clock.now)

	ctx, cancel := context.WithCancel(context.Background())
	pending := q.Enqueue(ctx, PriorityNormal, "getSlot", nil)
	cancel()

	if n := q.Drain(); n != 0 {
		t.Fatalf("drained %d cancelled requests, want 0", n)
	}
	if len(exec.callOrder()) != 0 {
		t.Error("cancelled request reached the executor")
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	if _, err := pending.Wait(waitCtx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait returned %v, want context.Canceled", err)
	}
}
