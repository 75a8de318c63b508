// Package scheduler enumerates the suspension points a taker/maker session
// loop may hit — peer reads, oversized writes, UTXO-oracle calls, broadcast
// RPCs (spec.md §5 "Suspension boundaries") — behind one Suspend call, so a
// replay test can drive them in an exact, deterministic order instead of
// racing real goroutines. Grounded on the teacher's ticker+select+ctx.Done
// concurrency idiom (internal/mempool/poller.go).
package scheduler

import "context"

// Point labels a suspension point, for logging and replay assertions.
type Point string

const (
	PointPeerRead    Point = "peer_read"
	PointPeerWrite   Point = "peer_write"
	PointOracleCall  Point = "oracle_call"
	PointBroadcast   Point = "broadcast"
	PointTimer       Point = "timer"
)

// Task is one unit of cooperative work. It calls Suspend at every point
// listed above before touching shared state on the other side of it.
type Task func(ctx context.Context, sched Scheduler) error

// Scheduler is the collaborator interface session loops suspend through,
// satisfied by both Loop (real concurrency) and the Mock (deterministic
// replay).
type Scheduler interface {
	// Suspend yields control at a named suspension point, running fn to
	// produce the point's result. The real Loop runs fn on its own
	// goroutine and waits for it or for ctx (fn is whatever blocking call
	// — a socket read, an RPC — actually suspends); the Mock intercepts fn
	// via a pre-scripted response
	// instead of calling it, so replay tests control exactly what each
	// suspension point returns.
	Suspend(ctx context.Context, at Point, fn func() (interface{}, error)) (interface{}, error)
}

// Loop is the production Scheduler: Suspend simply invokes fn, since real
// goroutines already suspend on blocking I/O. It exists so session code is
// written once against the Scheduler interface and needs no test-only
// branches.
type Loop struct{}

// NewLoop builds the production scheduler.
func NewLoop() *Loop { return &Loop{} }

// Suspend runs fn on a separate goroutine and returns its result, or
// ctx.Err() as soon as ctx is done; in that case fn keeps running and its
// result is discarded.
func (l *Loop) Suspend(ctx context.Context, at Point, fn func() (interface{}, error)) (interface{}, error) {
	type result struct {
		val interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.val, r.err
	}
}
