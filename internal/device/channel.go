// Package device talks to lockers over MQTT. Commands go to
// {prefix}/{clientID}/commands and lockers answer on
// {prefix}/response/{clientID}.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"easybox-network/internal/config"
	"easybox-network/internal/metrics"
	"easybox-network/internal/nonce"
	"easybox-network/internal/storage"
	"easybox-network/internal/utils"
)

// MessageHandler receives every message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Transport is the broker connection the channel runs on.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close()
}

// LockerSource resolves the sender of a message.
type LockerSource interface {
	GetLockerByClientID(ctx context.Context, clientID string) (*storage.Locker, error)
}

// ScanFunc turns a code scanned at locker into the result shown on its display.
type ScanFunc func(ctx context.Context, locker *storage.Locker, code string) ScanResult

// AckFunc receives command acknowledgements from approved lockers.
type AckFunc func(ctx context.Context, locker *storage.Locker, ack Ack)

type Channel struct {
	transport Transport
	prefix    string
	timeout   time.Duration

	lockers LockerSource
	nonces  nonce.Store
	onScan  ScanFunc
	onAck   AckFunc

	mu       sync.Mutex
	pending  map[string]chan []byte
	lastSeen map[string]time.Time

	logger *slog.Logger
}

func NewChannel(t Transport, cfg config.MQTT, lockers LockerSource, nonces nonce.Store) *Channel {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "easybox"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Channel{
		transport: t,
		prefix:    prefix,
		timeout:   timeout,
		lockers:   lockers,
		nonces:    nonces,
		pending:   make(map[string]chan []byte),
		lastSeen:  make(map[string]time.Time),
		logger:    slog.With("component", "device"),
	}
}

// OnScan sets the handler for scan events. Without one scans are refused.
func (c *Channel) OnScan(f ScanFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onScan = f
}

// OnAck sets the handler for command acknowledgements.
func (c *Channel) OnAck(f AckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAck = f
}

// Start subscribes to the response topics of all lockers.
func (c *Channel) Start() error {
	topic := c.responseTopic("+")
	if err := c.transport.Subscribe(topic, c.handleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("Listening for locker messages", "topic", topic)
	return nil
}

func (c *Channel) Close() {
	c.transport.Close()
}

func (c *Channel) commandTopic(clientID string) string {
	return c.prefix + "/" + clientID + "/commands"
}

func (c *Channel) responseTopic(clientID string) string {
	return c.prefix + "/response/" + clientID
}

// RequestCompartments asks a locker for its inventory and waits for the
// answer. Only one request per locker may be in flight.
func (c *Channel) RequestCompartments(ctx context.Context, clientID string) ([]InventoryItem, error) {
	reply := make(chan []byte, 1)

	c.mu.Lock()
	if _, busy := c.pending[clientID]; busy {
		c.mu.Unlock()
		metrics.DeviceRequestsTotal.WithLabelValues("conflict").Inc()
		return nil, &utils.ConflictError{Reason: "inventory request already in flight for " + clientID}
	}
	c.pending[clientID] = reply
	metrics.DevicePendingRequests.Set(float64(len(c.pending)))
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, clientID)
		metrics.DevicePendingRequests.Set(float64(len(c.pending)))
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, _ := json.Marshal(map[string]string{"type": inventoryRequestType})
	if err := c.transport.Publish(ctx, c.commandTopic(clientID), payload); err != nil {
		return nil, c.requestFailed(ctx, clientID, err)
	}

	select {
	case raw := <-reply:
		var items []InventoryItem
		if err := json.Unmarshal(raw, &items); err != nil {
			metrics.DeviceRequestsTotal.WithLabelValues("error").Inc()
			return nil, &utils.InvalidFormatError{Input: string(raw), Reason: "compartment list is not a JSON array"}
		}
		metrics.DeviceRequestsTotal.WithLabelValues("ok").Inc()
		return items, nil
	case <-ctx.Done():
		return nil, c.requestFailed(ctx, clientID, ctx.Err())
	}
}

func (c *Channel) requestFailed(ctx context.Context, clientID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.DeviceRequestsTotal.WithLabelValues("timeout").Inc()
		c.logger.Warn("Locker did not answer", "locker", clientID, "timeout", c.timeout)
		return &utils.TimeoutError{Op: "request-compartments", Target: clientID, After: c.timeout}
	}
	metrics.DeviceRequestsTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("request compartments from %s: %w", clientID, err)
}

// PushCommand publishes a single command to a locker without waiting for
// an answer.
func (c *Channel) PushCommand(ctx context.Context, clientID, command string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.transport.Publish(ctx, c.commandTopic(clientID), []byte(command)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &utils.TimeoutError{Op: "push command", Target: clientID, After: c.timeout}
		}
		return fmt.Errorf("push %q to %s: %w", command, clientID, err)
	}
	c.logger.Debug("Command sent", "locker", clientID, "command", command)
	return nil
}

func (c *Channel) Ping(ctx context.Context, clientID string) error {
	return c.PushCommand(ctx, clientID, PingCommand)
}

// LastSeen returns when clientID last answered a ping.
func (c *Channel) LastSeen(clientID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSeen[clientID]
	return t, ok
}

func (c *Channel) handleMessage(topic string, payload []byte) {
	clientID, ok := strings.CutPrefix(topic, c.prefix+"/response/")
	if !ok || clientID == "" || strings.Contains(clientID, "/") {
		c.logger.Warn("Message on unexpected topic", "topic", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	locker, body, signed, err := c.open(ctx, clientID, payload)
	if err != nil {
		c.logger.Warn("Dropping locker message", "locker", clientID, "error", err)
		return
	}

	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		c.deliverInventory(clientID, []byte(trimmed))
	case strings.HasPrefix(trimmed, "{"):
		c.handleJSONEvent(ctx, clientID, locker, signed, []byte(trimmed))
	case trimmed == pongEvent:
		c.mu.Lock()
		c.lastSeen[clientID] = time.Now()
		c.mu.Unlock()
		c.logger.Debug("Pong", "locker", clientID)
	default:
		if ack, ok := parseAck(trimmed); ok {
			c.handleAck(ctx, clientID, locker, signed, ack)
			return
		}
		c.logger.Warn("Unknown locker message", "locker", clientID, "payload", trimmed)
	}
}

func (c *Channel) handleAck(ctx context.Context, clientID string, locker *storage.Locker, signed bool, ack Ack) {
	c.logger.Info("Locker acknowledged command", "locker", clientID, "command", ack.Command,
		"compartment", ack.CompartmentRef, "ok", ack.OK)
	if locker == nil || !locker.Approved || !signed {
		return
	}
	c.mu.Lock()
	onAck := c.onAck
	c.mu.Unlock()
	if onAck != nil {
		onAck(ctx, locker, ack)
	}
}

func (c *Channel) deliverInventory(clientID string, body []byte) {
	c.mu.Lock()
	reply, ok := c.pending[clientID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("Unsolicited compartment list", "locker", clientID)
		return
	}
	select {
	case reply <- body:
	default:
		c.logger.Warn("Duplicate compartment list", "locker", clientID)
	}
}

type jsonEvent struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// handleJSONEvent runs scans. An approved locker must sign them even before
// its secret was delivered.
func (c *Channel) handleJSONEvent(ctx context.Context, clientID string, locker *storage.Locker, signed bool, body []byte) {
	var ev jsonEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.logger.Warn("Malformed locker event", "locker", clientID, "error", err)
		return
	}
	if ev.Type != scanEventType {
		c.logger.Warn("Unknown locker event", "locker", clientID, "type", ev.Type)
		return
	}

	c.mu.Lock()
	onScan := c.onScan
	c.mu.Unlock()

	var result ScanResult
	switch {
	case locker == nil || !locker.Approved:
		result = ScanFailed("locker is not approved", "")
	case !signed:
		result = ScanFailed("event must be signed", "")
	case onScan == nil:
		result = ScanFailed("scanning is not available", "")
	default:
		result = onScan(ctx, locker, ev.Code)
	}
	if err := c.PushCommand(ctx, clientID, result.Command()); err != nil {
		c.logger.Error("Failed to send scan result", "locker", clientID, "error", err)
	}
}
