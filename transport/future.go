package transport

import (
	"context"
	"sync"
)

// ReadFuture is the pending result of ReadAsync. It completes exactly once:
// with the requested bytes, with an error, or with the caller's cancellation.
type ReadFuture struct {
	done chan struct{}
	once sync.Once
	data []byte
	err  error
}

func newReadFuture() *ReadFuture {
	return &ReadFuture{done: make(chan struct{})}
}

func (f *ReadFuture) complete(data []byte, err error) {
	f.once.Do(func() {
		f.data, f.err = data, err
		close(f.done)
	})
}

// Done is closed when the future has completed.
func (f *ReadFuture) Done() <-chan struct{} { return f.done }

// Result is valid only after Done is closed.
func (f *ReadFuture) Result() ([]byte, error) { return f.data, f.err }

// Await blocks until the future completes or ctx is done. The request itself
// keeps running if only the wait is abandoned.
func (f *ReadFuture) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFuture is the pending result of WriteAsync. On success it carries the
// written payload back to the caller.
type WriteFuture struct {
	done    chan struct{}
	once    sync.Once
	payload Payload
	err     error
}

func newWriteFuture() *WriteFuture {
	return &WriteFuture{done: make(chan struct{})}
}

func (f *WriteFuture) complete(p Payload, err error) {
	f.once.Do(func() {
		f.payload, f.err = p, err
		close(f.done)
	})
}

// Done is closed when the future has completed.
func (f *WriteFuture) Done() <-chan struct{} { return f.done }

// Result is valid only after Done is closed.
func (f *WriteFuture) Result() (Payload, error) { return f.payload, f.err }

// Await blocks until the future completes or ctx is done.
func (f *WriteFuture) Await(ctx context.Context) (Payload, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}
