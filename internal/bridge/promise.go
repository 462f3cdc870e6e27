package bridge

import (
	"context"
	"sync"
)

// Result is the resolved value of a Promise.
type Result map[string]interface{}

// Promise settles exactly once, either resolved or rejected.
type Promise struct {
	once   sync.Once
	done   chan struct{}
	result Result
	err    *BridgeError
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already resolved with r.
func Resolved(r Result) *Promise {
	p := newPromise()
	p.resolve(r)
	return p
}

// Rejected returns a promise already rejected with err.
func Rejected(err error) *Promise {
	p := newPromise()
	p.reject(err)
	return p
}

func (p *Promise) resolve(r Result) bool {
	settled := false
	p.once.Do(func() {
		p.result = r
		close(p.done)
		settled = true
	})
	return settled
}

func (p *Promise) reject(err error) bool {
	settled := false
	p.once.Do(func() {
		p.err = FromError(err)
		close(p.done)
		settled = true
	})
	return settled
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the promise has settled.
func (p *Promise) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Await blocks until the promise settles or ctx ends. A rejection is
// returned as *BridgeError.
func (p *Promise) Await(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
