package spreadsheet

import (
	"context"
	"sync"
)

// Promise is the result of an asynchronous function. it settles exactly once;
// later Resolve or Reject calls are ignored.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value Primitive
	err   error
}

func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// ResolvedPromise returns an already settled promise
func ResolvedPromise(value Primitive) *Promise {
	p := NewPromise()
	p.Resolve(value)
	return p
}

func (p *Promise) Resolve(value Primitive) {
	p.settle(value, nil)
}

func (p *Promise) Reject(err error) {
	p.settle(nil, err)
}

func (p *Promise) settle(value Primitive, err error) {
	p.once.Do(func() {
		p.value, p.err = value, err
		close(p.done)
	})
}

// Done is closed once the promise settles
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the promise has a result, without blocking
func (p *Promise) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the settled outcome, or ErrNotReady while pending
func (p *Promise) Result() (Primitive, error) {
	if !p.Settled() {
		return nil, ErrNotReady
	}
	return p.value, p.err
}

// Await blocks until the promise settles or ctx ends
func (p *Promise) Await(ctx context.Context) (Primitive, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then returns a promise settled with fn applied to this promise's outcome.
// fn runs on its own goroutine and must not touch engine state.
func (p *Promise) Then(fn func(Primitive, error) (Primitive, error)) *Promise {
	next := NewPromise()
	go func() {
		<-p.done
		value, err := fn(p.value, p.err)
		next.settle(value, err)
	}()
	return next
}

// whenAll waits for every promise and hands their values, in order, to fn.
// the first rejection wins.
func whenAll(promises []*Promise, fn func(values []Primitive) (any, error)) *Promise {
	next := NewPromise()
	go func() {
		values := make([]Primitive, len(promises))
		for i, p := range promises {
			<-p.done
			if p.err != nil {
				next.Reject(p.err)
				return
			}
			values[i] = p.value
		}
		result, err := fn(values)
		if err != nil {
			next.Reject(err)
			return
		}
		// a chained function may itself be asynchronous
		if inner, ok := result.(*Promise); ok {
			<-inner.done
			next.settle(inner.value, inner.err)
			return
		}
		next.Resolve(result)
	}()
	return next
}
