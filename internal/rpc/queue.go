package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders queued requests. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// QueueConfig tunes the request queue.
type QueueConfig struct {
	// DrainInterval is how often the scheduler drains the queue.
	DrainInterval time.Duration `mapstructure:"drain_interval" yaml:"drain_interval"`

	// EnableBatching dispatches up to BatchSize ready requests concurrently
	// per drain instead of one.
	EnableBatching bool `mapstructure:"enable_batching" yaml:"enable_batching"`
	BatchSize      int  `mapstructure:"batch_size" yaml:"batch_size"`

	// MaxRetries bounds re-enqueues before the caller sees the failure.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryDelay is the backoff unit between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// DefaultQueueConfig returns the stock drain cadence and retry budget.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DrainInterval:  25 * time.Millisecond,
		EnableBatching: true,
		BatchSize:      4,
		MaxRetries:     3,
		RetryDelay:     500 * time.Millisecond,
	}
}

// executor is the slice of Manager the queue needs; tests stub it.
type executor interface {
	ExecuteWithFallback(ctx context.Context, method string, params []interface{}, out interface{}) error
}

type queueResult struct {
	raw json.RawMessage
	err error
}

// request is one queued call.
type request struct {
	id        uint64
	priority  Priority
	method    string
	params    []interface{}
	submitted time.Time
	retries   int
	notBefore time.Time
	ctx       context.Context
	done      chan queueResult
}

// Pending is the caller's handle on a queued request.
type Pending struct {
	req *request
}

// Wait blocks until the request completes, fails terminally, or ctx ends.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.req.done:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue is an in-memory priority queue of RPC calls, drained on scheduler
// ticks. Within a tier, earlier submissions drain first.
type Queue struct {
	mu      sync.Mutex
	pending []*request
	cfg     QueueConfig
	exec    executor
	metrics *Metrics
	now     func() time.Time
	nextID  uint64
}

// NewQueue creates the queue around an executor.
func NewQueue(cfg QueueConfig, exec executor, metrics *Metrics, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 25 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Queue{cfg: cfg, exec: exec, metrics: metrics, now: now}
}

// Enqueue adds a call and returns a handle to wait on. The context travels
// with the request; cancelling it abandons the call at the next drain.
func (q *Queue) Enqueue(ctx context.Context, priority Priority, method string, params []interface{}) *Pending {
	req := &request{
		id:        atomic.AddUint64(&q.nextID, 1),
		priority:  priority,
		method:    method,
		params:    params,
		submitted: q.now(),
		ctx:       ctx,
		done:      make(chan queueResult, 1),
	}
	q.mu.Lock()
	q.pending = append(q.pending, req)
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
	return &Pending{req: req}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain processes one tick: sort, take the ready batch, execute, re-enqueue
// retryable failures with backoff. Returns the number of requests dispatched.
func (q *Queue) Drain() int {
	batch := q.takeBatch()
	if len(batch) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, req := range batch {
		wg.Add(1)
		go func(req *request) {
			defer wg.Done()
			q.run(req)
		}(req)
	}
	wg.Wait()

	q.mu.Lock()
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
	return len(batch)
}

// takeBatch removes and returns the requests to dispatch this tick.
func (q *Queue) takeBatch() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// Drop abandoned requests before sorting; their callers are gone.
	kept := q.pending[:0]
	for _, req := range q.pending {
		if req.ctx.Err() != nil {
			req.done <- queueResult{err: req.ctx.Err()}
			continue
		}
		kept = append(kept, req)
	}
	q.pending = kept

	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].priority != q.pending[j].priority {
			return q.pending[i].priority < q.pending[j].priority
		}
		return q.pending[i].submitted.Before(q.pending[j].submitted)
	})

	limit := 1
	if q.cfg.EnableBatching && len(q.pending) > 1 {
		limit = q.cfg.BatchSize
	}

	var batch []*request
	remaining := q.pending[:0]
	for _, req := range q.pending {
		if len(batch) < limit && !now.Before(req.notBefore) {
			batch = append(batch, req)
			continue
		}
		remaining = append(remaining, req)
	}
	q.pending = remaining
	return batch
}

// run executes one request and routes the outcome.
func (q *Queue) run(req *request) {
	var raw json.RawMessage
	err := q.exec.ExecuteWithFallback(req.ctx, req.method, req.params, &raw)
	if err == nil {
		req.done <- queueResult{raw: raw}
		return
	}
	if !IsRetryable(err) || req.retries >= q.cfg.MaxRetries {
		req.done <- queueResult{err: err}
		return
	}
	req.retries++
	req.notBefore = q.now().Add(q.cfg.RetryDelay << uint(req.retries))
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()
}
