// Package transport implements a resilient, duplex, request-oriented TCP
// transport for talking to a single Kafka broker.
//
// Callers enqueue pre-sized reads and opaque writes from any goroutine; one
// owning goroutine multiplexes them over a single socket (plain or TLS) and
// completes each request's future exactly once. When the connection drops the
// transport reconnects with exponential backoff; failed requests are not
// replayed, the caller decides what to do with a failure.
//
// The transport does no protocol framing and no correlation-id matching: a
// read of n bytes returns exactly n bytes or fails.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbranscombe/kafka-net/backoff"
	"github.com/dbranscombe/kafka-net/logger"
)

func zapEndpoint(e Endpoint) zap.Field { return zap.Stringer("endpoint", e) }

// Transport is the public, goroutine-safe handle. Create with New, release
// with Close.
type Transport struct {
	endpoint Endpoint
	opts     Options
	log      *logger.Logger
	dialer   *dialer
	policy   *backoff.Policy

	sendQ  *queue[*writeRequest]
	readQ  *queue[*readRequest]
	events events

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New builds the transport and starts connecting immediately. Certificate
// configuration errors surface here, before any socket is opened.
func New(endpoint Endpoint, opts Options, log *logger.Logger) (*Transport, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	d, err := newDialer(endpoint, opts, log)
	if err != nil {
		return nil, err
	}
	policy, err := backoff.NewPolicy(backoff.Config{
		InitialInterval: opts.InitialBackoff,
		Multiplier:      opts.BackoffMultiplier,
		MaxInterval:     opts.MaxReconnectBackoff,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		endpoint: endpoint,
		opts:     opts,
		log:      log.Named("transport").With(zapEndpoint(endpoint)),
		dialer:   d,
		policy:   policy,
		sendQ:    newQueue[*writeRequest](opts.QueueCapacity),
		readQ:    newQueue[*readRequest](opts.QueueCapacity),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Endpoint returns the broker identity this transport is bound to.
func (t *Transport) Endpoint() Endpoint { return t.endpoint }

// ReadAsync enqueues a read of exactly size bytes. The returned future
// completes with size bytes, or with an error, never with a short buffer.
// ctx cancels the request: before it starts it is skipped, in flight it is
// abandoned at the next chunk boundary.
func (t *Transport) ReadAsync(ctx context.Context, size int) (*ReadFuture, error) {
	if size <= 0 {
		return nil, fmt.Errorf("transport: read size must be > 0, got %d", size)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req := &readRequest{size: size, ctx: ctx, fut: newReadFuture()}
	if err := t.readQ.push(req); err != nil {
		return nil, err
	}
	return req.fut, nil
}

// WriteAsync enqueues payload for transmission. The returned future completes
// with the payload once the whole buffer has been written. Writes are not
// interrupted by ctx once started; they complete or fail with the socket.
func (t *Transport) WriteAsync(ctx context.Context, payload Payload) (*WriteFuture, error) {
	if len(payload.Buffer) == 0 {
		return nil, fmt.Errorf("transport: write payload is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req := &writeRequest{payload: payload, ctx: ctx, fut: newWriteFuture()}
	if err := t.sendQ.push(req); err != nil {
		return nil, err
	}
	return req.fut, nil
}

// OnServerDisconnected subscribes fn to disconnect notifications.
func (t *Transport) OnServerDisconnected(fn func()) { t.events.onServerDisconnected(fn) }

// OnReconnectionAttempt subscribes fn to connect attempts; attempt counts
// from 1 within each reconnect cycle.
func (t *Transport) OnReconnectionAttempt(fn func(attempt int)) { t.events.onReconnectionAttempt(fn) }

// OnReadFromSocketAttempt fires before each socket read with the number of
// bytes still wanted.
func (t *Transport) OnReadFromSocketAttempt(fn func(size int)) { t.events.onReadAttempt(fn) }

// OnBytesReceived fires after each socket read with the chunk size.
func (t *Transport) OnBytesReceived(fn func(n int)) { t.events.onBytesReceived(fn) }

// OnWriteToSocketAttempt fires before each payload is written.
func (t *Transport) OnWriteToSocketAttempt(fn func(p Payload)) { t.events.onWriteAttempt(fn) }

// Close shuts the transport down: it signals the owning goroutine, waits up
// to CloseTimeout for it to exit, and fails all queued and future requests
// with ErrDisposed. Idempotent and safe to call from any goroutine; all calls
// return the same result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		select {
		case <-t.loopDone:
		case <-time.After(t.opts.CloseTimeout):
			t.closeErr = fmt.Errorf("transport: close %s: loop did not exit within %v",
				t.endpoint, t.opts.CloseTimeout)
		}
		t.drainQueues()
	})
	return t.closeErr
}
