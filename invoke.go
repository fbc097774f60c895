package stepseq

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Style selects how a handler issues its asynchronous operation.
type Style int

const (
	// StyleCallback passes the continuation straight to the operation.
	StyleCallback Style = iota
	// StylePromise turns the operation into a Future and awaits it.
	StylePromise
)

func (s Style) String() string {
	switch s {
	case StyleCallback:
		return "callback"
	case StylePromise:
		return "promise"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// ParseStyle parses "callback" or "promise".
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "callback":
		return StyleCallback, nil
	case "promise":
		return StylePromise, nil
	default:
		return 0, fmt.Errorf("stepseq: unknown invocation style %q", s)
	}
}

// AllStyles lists every invocation style.
func AllStyles() []Style { return []Style{StyleCallback, StylePromise} }

// Future holds the eventual result of an asynchronous operation.
type Future[V any] struct {
	once sync.Once
	done chan struct{}
	val  V
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

// Resolve settles the future; later calls are ignored and return false.
func (f *Future[V]) Resolve(v V, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future is resolved.
func (f *Future[V]) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx is done.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Promise starts a callback-style operation and returns its future.
func Promise[V any](op func(done func(V, error))) *Future[V] {
	f := NewFuture[V]()
	op(func(v V, err error) { f.Resolve(v, err) })
	return f
}

// InvokeValue issues op in the call's style and hands its outcome to then,
// exactly once, even if the operation reports twice.
func InvokeValue[T, V any](c *Call[T], op func(done func(V, error)), then func(V, error)) {
	if c.Style() == StylePromise {
		f := Promise(op)
		go func() {
			v, err := f.Await(c.Context())
			then(v, err)
		}()
		return
	}
	var once sync.Once
	op(func(v V, err error) {
		once.Do(func() { then(v, err) })
	})
}

// Invoke is InvokeValue for operations that only report an error.
func Invoke[T any](c *Call[T], op func(done func(error)), then func(error)) {
	InvokeValue(c,
		func(done func(struct{}, error)) {
			op(func(err error) { done(struct{}{}, err) })
		},
		func(_ struct{}, err error) { then(err) },
	)
}
