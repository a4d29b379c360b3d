package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sirupsen/logrus"
)

// ManagerConfig tunes the canonical RPC manager.
type ManagerConfig struct {
	// Timeout applies per outbound call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Commitment is the default commitment level for connections.
	Commitment string `mapstructure:"commitment" yaml:"commitment"`
}

// DefaultManagerConfig keeps the 30s per-call budget the clients shipped with.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Timeout: 30 * time.Second, Commitment: string(rpc.CommitmentConfirmed)}
}

// callFunc performs one JSON-RPC call over a connection. Tests substitute it.
type callFunc func(ctx context.Context, conn *Connection, method string, params []interface{}, out interface{}) error

// Manager is the single entry point to the provider pool: select a provider,
// get a connection, execute with fallback, report errors. Nothing else talks
// to providers directly.
type Manager struct {
	registry *Registry
	tracker  *Tracker
	selector *Selector
	conns    *ConnCache
	results  *ResultCache
	metrics  *Metrics
	logger   *logrus.Logger

	timeout    time.Duration
	commitment rpc.CommitmentType
	call       callFunc
}

// NewManager wires the manager from its parts.
func NewManager(cfg ManagerConfig, registry *Registry, tracker *Tracker, selector *Selector,
	conns *ConnCache, results *ResultCache, metrics *Metrics, logger *logrus.Logger) *Manager {

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Manager{
		registry:   registry,
		tracker:    tracker,
		selector:   selector,
		conns:      conns,
		results:    results,
		metrics:    metrics,
		logger:     logger,
		timeout:    cfg.Timeout,
		commitment: commitment,
		call: func(ctx context.Context, conn *Connection, method string, params []interface{}, out interface{}) error {
			return conn.Client.RPCCallForInto(ctx, out, method, params)
		},
	}
}

// SelectProvider returns the provider the current strategy would use.
func (m *Manager) SelectProvider() (string, error) {
	return m.selector.Select()
}

// GetConnection returns the cached connection for a provider at the given
// commitment level, dialing on miss.
func (m *Manager) GetConnection(provider string, commitment rpc.CommitmentType) (*Connection, error) {
	p, ok := m.registry.Get(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if commitment == "" {
		commitment = m.commitment
	}
	return m.conns.Get(p.Config, commitment), nil
}

// ReportError feeds an externally observed failure into the health tracker.
func (m *Manager) ReportError(provider string, err error) {
	m.tracker.RecordFailure(provider, err)
}

// Execute runs one RPC call against the selected provider, consulting the
// result cache first. out may be nil when the caller only cares about
// success.
func (m *Manager) Execute(ctx context.Context, method string, params []interface{}, out interface{}) error {
	key := ""
	if m.results != nil && m.results.Cacheable(method) {
		key = m.results.Key(method, params)
		if raw, ok := m.results.Get(key); ok {
			m.metrics.ObserveCache("result", true)
			return decodeInto(raw, out)
		}
		m.metrics.ObserveCache("result", false)
	}

	provider, err := m.selector.Select()
	if err != nil {
		return err
	}
	raw, err := m.executeOn(ctx, provider, method, params)
	if err != nil {
		return err
	}
	if key != "" {
		m.results.Put(key, raw)
	}
	return decodeInto(raw, out)
}

// ExecuteWithFallback runs the call against the selected provider, then
// walks the remaining providers in registry order on retryable failures.
// Business errors stop the walk: the request itself is wrong.
func (m *Manager) ExecuteWithFallback(ctx context.Context, method string, params []interface{}, out interface{}) error {
	key := ""
	if m.results != nil && m.results.Cacheable(method) {
		key = m.results.Key(method, params)
		if raw, ok := m.results.Get(key); ok {
			m.metrics.ObserveCache("result", true)
			return decodeInto(raw, out)
		}
		m.metrics.ObserveCache("result", false)
	}

	first, err := m.selector.Select()
	if err != nil {
		return err
	}
	candidates := []string{first}
	for _, name := range m.registry.EnabledNames() {
		if name != first {
			candidates = append(candidates, name)
		}
	}

	var lastErr error
	for _, provider := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, callErr := m.executeOn(ctx, provider, method, params)
		if callErr == nil {
			if key != "" {
				m.results.Put(key, raw)
			}
			return decodeInto(raw, out)
		}
		lastErr = callErr
		if !IsRetryable(callErr) {
			return callErr
		}
		m.logger.WithFields(logrus.Fields{
			"provider": provider,
			"method":   method,
		}).WithError(callErr).Warn("Provider failed, trying next")
	}
	return fmt.Errorf("all providers failed: %w", lastErr)
}

// executeOn performs the call against one named provider and feeds the
// outcome into the tracker.
func (m *Manager) executeOn(ctx context.Context, provider string, method string, params []interface{}) (json.RawMessage, error) {
	p, ok := m.registry.Get(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if !m.tracker.Allow(provider) {
		// Local gate, not a provider response: no failure is recorded, but
		// the caller sees a retryable rate-limit error.
		return nil, NewError(KindRateLimited, provider, method, errors.New("request window exhausted"))
	}

	conn := m.conns.Get(p.Config, m.commitment)

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var raw json.RawMessage
	start := time.Now()
	err := m.call(callCtx, conn, method, params, &raw)
	if err != nil {
		classified := m.classify(provider, method, err)
		m.tracker.RecordFailure(provider, classified)
		return nil, classified
	}
	m.tracker.RecordSuccess(provider, time.Since(start))

	m.logger.WithFields(logrus.Fields{
		"provider": provider,
		"method":   method,
		"latency":  time.Since(start).Milliseconds(),
	}).Debug("RPC call completed")
	return raw, nil
}

// classify wraps a raw transport or JSON-RPC failure into a structured Error.
func (m *Manager) classify(provider, method string, err error) *Error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return NewError(ClassifyRPCCode(rpcErr.Code, rpcErr.Message), provider, method, err)
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return NewError(ClassifyStatus(httpErr.Code), provider, method, err)
	}
	return NewError(ClassifyTransport(err), provider, method, err)
}

// decodeInto unmarshals the raw result into out, tolerating a nil out.
func decodeInto(raw json.RawMessage, out interface{}) error {
	if out == nil {
		return nil
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = raw
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// Snapshots exposes provider state for the stats writer and status logging.
func (m *Manager) Snapshots() []ProviderSnapshot {
	return m.registry.Snapshots()
}
