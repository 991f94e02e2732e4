// Package correlator matches asynchronous replies to outstanding calls.
//
// Every call registers a small private queue under a fresh correlation id;
// inbound replies are routed to the queue of their id and the caller blocked in
// Wait picks them up:
//
//	caller ──NextID()──► queues[id] = chan(10)
//	caller ──Wait(id)──► select { queues[id] | deadline | ctx.Done() }
//	transport ──Notify(reply)──► queues[reply.ID()] <- reply
//
// There is no lock shared across calls: the id → queue map is a sync.Map and
// each queue has a single consumer.
package correlator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"socket-rpc/message"

	"github.com/golang/groupcache/lru"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

var (
	ErrTimeout   = errors.New("correlator: timed out waiting for the reply")
	ErrUnknownID = errors.New("correlator: no outstanding call with this id")
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultCapacity      = 10 // Absorbs a short burst; a correct peer sends one reply per id
	DefaultRetiredMemory = 1024
	maxHierarchyDepth    = 64
)

// Correlator is the per-remote registry of outstanding calls.
type Correlator struct {
	timeout   time.Duration
	capacity  int
	queues    sync.Map // id → chan message.RpcMessage
	retiredMu sync.Mutex
	retired   *lru.Cache // Recently finished ids, tells late replies from stray ones
	newID     func() string
	hierarchy map[string]string // Exception tag → parent tag
	onAnomaly func(Anomaly)
	log       *zap.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithCapacity sets the size of each per-call queue.
func WithCapacity(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithIDGenerator replaces the random id generator. Ids must be unique among
// the open calls only; NextID retries on collision.
func WithIDGenerator(fn func() string) Option {
	return func(c *Correlator) { c.newID = fn }
}

// WithRetiredMemory sets how many finished ids are remembered for logging
// late replies. Zero disables the memory.
func WithRetiredMemory(n int) Option {
	return func(c *Correlator) {
		c.retired = nil
		if n > 0 {
			c.retired = lru.New(n)
		}
	}
}

// WithAnomalyHandler receives every message that could not be delivered to a
// caller. It runs on the delivering goroutine and must not block.
func WithAnomalyHandler(fn func(Anomaly)) Option {
	return func(c *Correlator) { c.onAnomaly = fn }
}

// WithExceptionHierarchy declares parent tags of exception tags, so that a
// call expecting a parent also accepts its descendants:
//
//	WithExceptionHierarchy(map[string]string{"NotFoundError": "LookupError"})
func WithExceptionHierarchy(parents map[string]string) Option {
	return func(c *Correlator) { c.hierarchy = parents }
}

// WithLogger sets the logger, zap.L() by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Correlator) { c.log = l }
}

// New returns a correlator whose calls fail with ErrTimeout after timeout.
func New(timeout time.Duration, opts ...Option) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Correlator{
		timeout:  timeout,
		capacity: DefaultCapacity,
		newID:    func() string { return uuid.NewV4().String() },
		log:      zap.L(),
	}
	c.retired = lru.New(DefaultRetiredMemory)
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("correlator")
	return c
}

// Timeout is the budget of every call.
func (c *Correlator) Timeout() time.Duration { return c.timeout }

// NextID registers a new outstanding call and returns its id.
func (c *Correlator) NextID() string {
	for {
		id := c.newID()
		if _, loaded := c.queues.LoadOrStore(id, make(chan message.RpcMessage, c.capacity)); !loaded {
			return id
		}
		c.log.Debug("correlation id collision, retrying", zap.String("id", id))
	}
}

// Notify delivers an inbound reply to the call waiting for its id. It never
// blocks: replies for unknown ids or overflowing queues are logged and dropped.
func (c *Correlator) Notify(msg message.RpcMessage) {
	if msg == nil {
		c.log.Error("unexpected nil message")
		return
	}

	id := msg.ID()
	v, ok := c.queues.Load(id)
	if !ok {
		if c.wasRetired(id) {
			c.log.Warn("late reply for a finished call", zap.String("id", id), zap.String("type", msg.Type()))
		} else {
			c.log.Error("reply has no waiting call", zap.String("id", id), zap.String("type", msg.Type()))
		}
		c.anomaly(UnknownID, msg)
		return
	}

	select {
	case v.(chan message.RpcMessage) <- msg:
	default:
		c.log.Error("could not enqueue reply since the queue is full", zap.String("id", id), zap.String("type", msg.Type()))
		c.anomaly(QueueFull, msg)
	}
}

// Forget drops an outstanding call, e.g. when its request could not be sent.
func (c *Correlator) Forget(id string) {
	c.retire(id)
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	n := 0
	c.queues.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *Correlator) retire(id string) {
	if _, ok := c.queues.LoadAndDelete(id); !ok || c.retired == nil {
		return
	}
	c.retiredMu.Lock()
	c.retired.Add(id, struct{}{})
	c.retiredMu.Unlock()
}

func (c *Correlator) wasRetired(id string) bool {
	if c.retired == nil {
		return false
	}
	c.retiredMu.Lock()
	defer c.retiredMu.Unlock()
	_, ok := c.retired.Get(id)
	return ok
}

func (c *Correlator) anomaly(kind AnomalyKind, msg message.RpcMessage) {
	if c.onAnomaly != nil {
		c.onAnomaly(Anomaly{Kind: kind, Message: msg})
	}
}

// assignable reports whether exceptions tagged carried satisfy a call that
// declared declared, following the configured hierarchy upwards.
func (c *Correlator) assignable(carried, declared string) bool {
	for i := 0; i < maxHierarchyDepth && carried != ""; i++ {
		if carried == declared {
			return true
		}
		carried = c.hierarchy[carried]
	}
	return false
}

func (c *Correlator) String() string {
	return fmt.Sprintf("correlator(timeout=%s, pending=%d)", c.timeout, c.Pending())
}
