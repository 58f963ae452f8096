package crud

import (
	"context"
	"errors"
)

// ErrConsumed is returned by Await when the future's result was already
// received.
var ErrConsumed = errors.New("crud: future already consumed")

// Callback receives the outcome of an asynchronous call, error first.
type Callback[T any] func(err error, result T)

// Result is the single value a future yields.
type Result[T any] struct {
	Value T
	Err   error
}

// Unwrap returns the result as a Go value/error pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// Async runs op on its own goroutine and returns a future: a channel that
// yields exactly one Result and is then closed. If cb is non-nil it is
// called once with the same outcome before the result is delivered, so a
// caller may use either channel or both.
//
//	fut := crud.Async(ctx, svc.GetAll, nil)
//	docs, err := crud.Await(ctx, fut)
func Async[T any](ctx context.Context, op func(context.Context) (T, error), cb Callback[T]) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := op(ctx)
		if cb != nil {
			cb(err, v)
		}
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// Await blocks until the future resolves or ctx is done.
func Await[T any](ctx context.Context, fut <-chan Result[T]) (T, error) {
	select {
	case r, ok := <-fut:
		if !ok {
			var zero T
			return zero, ErrConsumed
		}
		return r.Unwrap()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
