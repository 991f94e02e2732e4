package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/transport"

	"go.uber.org/zap"
)

var (
	ErrQueueFull        = message.NewTaggedError("socketrpc.ServerBusy", "server busy, request queue full")
	ErrDispatcherClosed = errors.New("server: dispatcher closed")
)

const (
	DefaultQueueSize    = 1000
	DefaultScheduleWait = time.Second
)

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	return 3 * runtime.NumCPU()
}

// Processor serves one request and sends its reply on s.
type Processor interface {
	ProcessRequest(ctx context.Context, s transport.Session, req message.RpcMessage) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, s transport.Session, req message.RpcMessage) error

func (f ProcessorFunc) ProcessRequest(ctx context.Context, s transport.Session, req message.RpcMessage) error {
	return f(ctx, s, req)
}

type task struct {
	session transport.Session
	req     message.RpcMessage
}

// Stats is a snapshot of a dispatcher's load.
type Stats struct {
	Queued   int
	Active   int
	Workers  int
	Capacity int
}

// Dispatcher hands requests from transport goroutines to a fixed pool of
// workers through a bounded queue:
//
//	OnFrame ──Schedule──► tasks (cap N) ──► worker 1..W ──► Processor
//
// At most W requests run at once; a request that fails or panics is logged
// and the worker moves on.
type Dispatcher struct {
	processor    Processor
	tasks        chan task
	workers      int
	scheduleWait time.Duration
	log          *zap.Logger

	ctx    context.Context // Parent of every task context
	cancel context.CancelFunc
	closed atomic.Bool
	active atomic.Int64
	wg     sync.WaitGroup // Running workers
}

type dispatcherOptions struct {
	queueSize    int
	workers      int
	scheduleWait time.Duration
	log          *zap.Logger
}

type DispatcherOption func(*dispatcherOptions)

// WithQueueSize sets how many scheduled tasks may wait for a worker.
func WithQueueSize(n int) DispatcherOption {
	return func(o *dispatcherOptions) { o.queueSize = n }
}

// WithWorkers sets the number of concurrent ProcessRequest calls.
func WithWorkers(n int) DispatcherOption {
	return func(o *dispatcherOptions) { o.workers = n }
}

// WithScheduleWait bounds how long Schedule waits for queue space.
func WithScheduleWait(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) { o.scheduleWait = d }
}

// WithDispatcherLogger sets the logger, zap.L() by default.
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(o *dispatcherOptions) { o.log = l }
}

// NewDispatcher starts the workers of p.
func NewDispatcher(p Processor, opts ...DispatcherOption) *Dispatcher {
	o := dispatcherOptions{
		queueSize:    DefaultQueueSize,
		workers:      DefaultWorkers(),
		scheduleWait: DefaultScheduleWait,
		log:          zap.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.queueSize < 1 {
		o.queueSize = 1
	}
	if o.workers < 1 {
		o.workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		processor:    p,
		tasks:        make(chan task, o.queueSize),
		workers:      o.workers,
		scheduleWait: o.scheduleWait,
		log:          o.log.Named("dispatcher"),
		ctx:          ctx,
		cancel:       cancel,
	}
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.work()
	}
	return d
}

// Schedule queues req for processing. When the queue is full it waits up to
// the schedule wait, then fails with ErrQueueFull.
func (d *Dispatcher) Schedule(ctx context.Context, s transport.Session, req message.RpcMessage) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	t := task{session: s, req: req}

	select {
	case d.tasks <- t:
		return nil
	default:
	}

	timer := time.NewTimer(d.scheduleWait)
	defer timer.Stop()
	select {
	case d.tasks <- t:
		return nil
	case <-timer.C:
		d.log.Warn("request queue full", zap.String("type", req.Type()), zap.String("id", req.ID()))
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherClosed
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.tasks:
			d.run(t)
		}
	}
}

func (d *Dispatcher) run(t task) {
	d.active.Add(1)
	defer d.active.Add(-1)

	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("request processing panicked",
				zap.String("type", t.req.Type()), zap.String("id", t.req.ID()), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	err := d.processor.ProcessRequest(ctx, t.session, t.req)
	if err == nil {
		return
	}
	fields := []zap.Field{zap.String("type", t.req.Type()), zap.String("id", t.req.ID()), zap.Error(err)}
	switch {
	case errors.Is(err, transport.ErrSessionClosed):
		d.log.Warn("could not reply, session closed", fields...)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, middleware.ErrHandlerTimeout):
		d.log.Warn("request timed out", fields...)
	case errors.Is(err, context.Canceled) && d.closed.Load():
		d.log.Debug("request abandoned on shutdown", fields...)
	default:
		d.log.Error("request processing failed", fields...)
	}
}

// Close stops accepting requests and cancels the running ones. Queued
// requests are abandoned. Workers exit once their current request returns.
func (d *Dispatcher) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.cancel()
	}
	return nil
}

// Wait blocks until every worker exited or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d running requests: %w", d.active.Load(), ctx.Err())
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:   len(d.tasks),
		Active:   int(d.active.Load()),
		Workers:  d.workers,
		Capacity: cap(d.tasks),
	}
}
