package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SlotWatcher keeps a slotSubscribe stream open per provider with a ws
// endpoint and feeds observed slots into the tracker. A provider whose
// stream goes quiet is degraded by the tracker's staleness sweep.
type SlotWatcher struct {
	registry       *Registry
	tracker        *Tracker
	logger         *logrus.Logger
	reconnectDelay time.Duration
}

// wsMessage is the subset of the Solana ws frame the watcher reads.
type wsMessage struct {
	ID     *int   `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Params *struct {
		Result struct {
			Slot uint64 `json:"slot"`
		} `json:"result"`
	} `json:"params,omitempty"`
}

// NewSlotWatcher creates the watcher.
func NewSlotWatcher(registry *Registry, tracker *Tracker, logger *logrus.Logger) *SlotWatcher {
	return &SlotWatcher{
		registry:       registry,
		tracker:        tracker,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

// Start launches one watch loop per provider that has a ws endpoint. It
// returns immediately; loops end when ctx is cancelled.
func (sw *SlotWatcher) Start(ctx context.Context) {
	for _, name := range sw.registry.Names() {
		p, ok := sw.registry.Get(name)
		if !ok || p.Config.WSURL == "" {
			continue
		}
		go sw.watch(ctx, p.Config.Name, p.Config.WSURL)
	}
}

// watch maintains one subscription, reconnecting with a fixed delay.
func (sw *SlotWatcher) watch(ctx context.Context, provider, url string) {
	for {
		if err := sw.streamOnce(ctx, provider, url); err != nil && ctx.Err() == nil {
			sw.logger.WithFields(logrus.Fields{
				"provider": provider,
				"url":      url,
			}).WithError(err).Warn("Slot stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sw.reconnectDelay):
		}
	}
}

// streamOnce dials, subscribes, and reads notifications until failure.
func (sw *SlotWatcher) streamOnce(ctx context.Context, provider, url string) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "slotSubscribe",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to send slotSubscribe: %w", err)
	}

	sw.logger.WithField("provider", provider).Debug("Slot subscription open")

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Method == "slotNotification" && msg.Params != nil {
			sw.tracker.RecordSlot(provider, msg.Params.Result.Slot)
		}
	}
}
