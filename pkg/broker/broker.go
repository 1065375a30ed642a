// Package broker implements the per-node outbound mailbox and per-message
// response mailbox used to hand application payloads between the transport
// layer and whichever component is waiting on them.
//
// Two independent queues are kept per Broker:
//
//   - an outbound mailbox, keyed by (network_id, node_id), that the
//     connection manager drains when it has a live link to that peer;
//   - a response mailbox, keyed by message_id, that a caller blocks on
//     after sending a request that expects a synchronous reply.
//
// Both queues are FIFO per key and deliver at most once: Get and
// ResponseStream remove the payload they return.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout is the wait applied by Get/ResponseStream callers that do
// not supply their own deadline, matching the broker timeout budget.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when no payload became available before the
// caller's deadline elapsed.
var ErrTimeout = errors.New("broker: timed out waiting for payload")

// ErrClosed is returned by operations on a Broker that has been closed.
var ErrClosed = errors.New("broker: closed")

// Broker is the contract implemented by the memory and redis drivers.
type Broker interface {
	// Publish enqueues payload onto the outbound mailbox for (networkID, nodeID).
	Publish(ctx context.Context, networkID, nodeID string, payload []byte) error

	// Get blocks until a payload is available for (networkID, nodeID) or
	// timeout elapses, returning ErrTimeout in the latter case.
	Get(ctx context.Context, networkID, nodeID string, timeout time.Duration) ([]byte, error)

	// AddResponse delivers payload to whoever is waiting on messageID via
	// ResponseStream.
	AddResponse(ctx context.Context, messageID string, payload []byte) error

	// ResponseStream blocks until a response for messageID arrives or
	// timeout elapses.
	ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error)

	// Close releases all resources held by the broker.
	Close() error
}

func mailboxKey(networkID, nodeID string) string {
	return networkID + "/" + nodeID
}

// Memory is an in-process Broker backed by buffered channel queues guarded
// by a mutex, generalized from a broadcast pub-sub into per-key
// point-to-point queues.
type Memory struct {
	mu        sync.Mutex
	outbound  map[string]chan []byte
	responses map[string]chan []byte
	closed    bool
	stopCh    chan struct{}
}

// NewMemory creates an empty in-process Broker.
func NewMemory() *Memory {
	return &Memory{
		outbound:  make(map[string]chan []byte),
		responses: make(map[string]chan []byte),
		stopCh:    make(chan struct{}),
	}
}

func (m *Memory) queueFor(set map[string]chan []byte, key string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := set[key]
	if !ok {
		q = make(chan []byte, 64)
		set[key] = q
	}
	return q
}

// Publish implements Broker.
func (m *Memory) Publish(ctx context.Context, networkID, nodeID string, payload []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	q := m.queueFor(m.outbound, mailboxKey(networkID, nodeID))
	select {
	case q <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return ErrClosed
	}
}

// Get implements Broker.
func (m *Memory) Get(ctx context.Context, networkID, nodeID string, timeout time.Duration) ([]byte, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q := m.queueFor(m.outbound, mailboxKey(networkID, nodeID))
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-q:
		return payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopCh:
		return nil, ErrClosed
	}
}

// AddResponse implements Broker.
func (m *Memory) AddResponse(ctx context.Context, messageID string, payload []byte) error {
	if m.isClosed() {
		return ErrClosed
	}
	q := m.queueFor(m.responses, messageID)
	select {
	case q <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return ErrClosed
	}
}

// ResponseStream implements Broker.
func (m *Memory) ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q := m.queueFor(m.responses, messageID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-q:
		m.mu.Lock()
		if len(q) == 0 {
			delete(m.responses, messageID)
		}
		m.mu.Unlock()
		return payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopCh:
		return nil, ErrClosed
	}
}

// Close implements Broker.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopCh)
	return nil
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// QueueBackend is the abstraction a redis-backed Broker stores payloads
// through, so a real Redis client can be substituted without touching
// callers.
type QueueBackend interface {
	RPush(ctx context.Context, key string, payload []byte) error
	BLPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
}

// Redis is a Broker backed by a QueueBackend (e.g. a real Redis client),
// using RPush/BLPop to get the same FIFO-per-key, at-most-once-delivery
// semantics as Memory.
type Redis struct {
	backend QueueBackend
}

// NewRedis wraps backend as a Broker.
func NewRedis(backend QueueBackend) *Redis {
	return &Redis{backend: backend}
}

func (r *Redis) Publish(ctx context.Context, networkID, nodeID string, payload []byte) error {
	return r.backend.RPush(ctx, "outbound:"+mailboxKey(networkID, nodeID), payload)
}

func (r *Redis) Get(ctx context.Context, networkID, nodeID string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	payload, err := r.backend.BLPop(ctx, "outbound:"+mailboxKey(networkID, nodeID), timeout)
	if err != nil {
		return nil, fmt.Errorf("broker: redis get: %w", err)
	}
	if payload == nil {
		return nil, ErrTimeout
	}
	return payload, nil
}

func (r *Redis) AddResponse(ctx context.Context, messageID string, payload []byte) error {
	return r.backend.RPush(ctx, "response:"+messageID, payload)
}

func (r *Redis) ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	payload, err := r.backend.BLPop(ctx, "response:"+messageID, timeout)
	if err != nil {
		return nil, fmt.Errorf("broker: redis response stream: %w", err)
	}
	if payload == nil {
		return nil, ErrTimeout
	}
	return payload, nil
}

func (r *Redis) Close() error {
	return nil
}
