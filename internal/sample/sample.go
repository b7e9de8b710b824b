// Package sample holds annotated types whose teardown methods are generated
// from autoclose.yaml. The *_autoclose.go files are checked in; a test
// fails when they drift from what the generator produces.
package sample

//go:generate go run ../../cmd/autoclose generate -f autoclose.yaml

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"autoclose/pkg/lifecycle"
)

// Trace records release events in order.
type Trace struct {
	mu     sync.Mutex
	events []string
}

func (t *Trace) add(format string, args ...interface{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// Conn is a sync-only resource.
type Conn struct {
	name   string
	trace  *Trace
	err    error
	closes atomic.Int32
}

// NewConn creates a connection whose Close returns err.
func NewConn(name string, trace *Trace, err error) *Conn {
	return &Conn{name: name, trace: trace, err: err}
}

func (c *Conn) Close() error {
	c.closes.Add(1)
	c.trace.add("close %s", c.name)
	return c.err
}

// Closes returns how often Close ran.
func (c *Conn) Closes() int {
	return int(c.closes.Load())
}

// Worker is an async-only resource.
type Worker struct {
	name  string
	trace *Trace

	mu        sync.Mutex
	shutdowns []context.Context
}

// NewWorker creates a worker.
func NewWorker(name string, trace *Trace) *Worker {
	return &Worker{name: name, trace: trace}
}

func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.shutdowns = append(w.shutdowns, ctx)
	w.mu.Unlock()
	w.trace.add("shutdown %s", w.name)
	return nil
}

// Contexts returns the contexts Shutdown received.
func (w *Worker) Contexts() []context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]context.Context(nil), w.shutdowns...)
}

// Buffer is held by value; Close is declared on *Buffer.
type Buffer struct {
	trace  *Trace
	closed bool
}

func (b *Buffer) Close() error {
	b.closed = true
	b.trace.add("close buffer")
	return nil
}

// Handle owns an unmanaged descriptor, so it arms a finalizer.
//
//autoclose:generate
type Handle struct {
	gate     lifecycle.Gate
	trace    *Trace
	fd       *Conn
	buf      Buffer
	flushErr error
}

// NewHandle creates a handle and arms its finalizer.
func NewHandle(trace *Trace, fd *Conn, flushErr error) *Handle {
	h := &Handle{trace: trace, fd: fd, buf: Buffer{trace: trace}, flushErr: flushErr}
	h.armFinalizer()
	return h
}

//autoclose:unmanaged
func (h *Handle) releaseFD() {
	h.trace.add("handle releaseFD")
}

//autoclose:hook
func (h *Handle) flush() error {
	h.trace.add("handle flush")
	return h.flushErr
}

// Derived extends Handle with a log connection and its own hooks.
//
//autoclose:generate
type Derived struct {
	Handle
	gate lifecycle.Gate
	log  *Conn
}

// NewDerived creates a derived handle. Only the outermost type arms the
// finalizer.
func NewDerived(trace *Trace, fd, log *Conn) *Derived {
	d := &Derived{
		Handle: Handle{trace: trace, fd: fd, buf: Buffer{trace: trace}},
		log:    log,
	}
	d.armFinalizer()
	return d
}

//autoclose:unmanaged
func (d *Derived) dropLog() {
	d.trace.add("derived dropLog")
}

//autoclose:hook
func (d *Derived) rotate() error {
	d.trace.add("derived rotate")
	return nil
}

// Pool supports both protocols.
//
//autoclose:generate
type Pool struct {
	gate   lifecycle.Gate
	trace  *Trace
	conns  *Conn
	worker *Worker
}

// NewPool creates a pool.
func NewPool(trace *Trace, conns *Conn, worker *Worker) *Pool {
	return &Pool{trace: trace, conns: conns, worker: worker}
}

//autoclose:hook
func (p *Pool) drain() error {
	p.trace.add("pool drain")
	return nil
}

//autoclose:hook async
func (p *Pool) drainCtx(ctx context.Context) error {
	p.trace.add("pool drainCtx")
	return ctx.Err()
}

// Runner is shut down asynchronously only.
//
//autoclose:generate
type Runner struct {
	gate   lifecycle.Gate
	worker *Worker
	conn   *Conn
}

// NewRunner creates a runner. Either resource may be nil.
func NewRunner(worker *Worker, conn *Conn) *Runner {
	return &Runner{worker: worker, conn: conn}
}

// Bridge adds a sync entry point to Runner.
//
//autoclose:generate
type Bridge struct {
	Runner
	gate lifecycle.Gate
}

// NewBridge creates a bridge over a runner's resources.
func NewBridge(worker *Worker, conn *Conn) *Bridge {
	return &Bridge{Runner: Runner{worker: worker, conn: conn}}
}

// Session embeds a pool that may be attached later.
//
//autoclose:generate
type Session struct {
	*Pool
	gate lifecycle.Gate
	conn *Conn
}

// NewSession creates a session. pool may be nil.
func NewSession(pool *Pool, conn *Conn) *Session {
	return &Session{Pool: pool, conn: conn}
}

// Box releases any value supporting both protocols.
//
//autoclose:generate
type Box[T lifecycle.Releaser] struct {
	gate lifecycle.Gate
	item T
}

// NewBox wraps item.
func NewBox[T lifecycle.Releaser](item T) *Box[T] {
	return &Box[T]{item: item}
}

// Native maps memory that must be unmapped even when it is never shut down.
//
//autoclose:generate
type Native struct {
	gate   lifecycle.Gate
	trace  *Trace
	worker *Worker
}

// NewNative creates a mapping and arms its finalizer.
func NewNative(trace *Trace, worker *Worker) *Native {
	n := &Native{trace: trace, worker: worker}
	n.armFinalizer()
	return n
}

//autoclose:unmanaged
func (n *Native) unmap() {
	n.trace.add("native unmap")
}
