package stepseq

import (
	"context"
	"fmt"
)

// WithRecover converts a handler panic into a step failure so the run
// still reaches its completion signal.
func WithRecover[T any]() Middleware[T] {
	return func(next Handler[T]) Handler[T] {
		return func(ctx context.Context, c *Call[T]) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("stepseq: panic in step %q: %v", c.Name, r)
				}
			}()
			return next(ctx, c)
		}
	}
}
