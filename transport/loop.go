package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// run is the outer loop of the owning goroutine: run sessions until the
// transport is disposed. A server disconnect ends the session and starts the
// next one (which reconnects); any other session error is logged and the next
// session starts as well, without the disconnect event.
func (t *Transport) run() {
	defer close(t.loopDone)
	for {
		err := t.session()
		switch {
		case errors.Is(err, ErrDisposed):
			t.drainQueues()
			return
		case errors.Is(err, ErrServerDisconnected):
			transportMetrics.Disconnects.Inc()
			t.log.Warn("session ended: server disconnected", zap.Error(err))
			t.events.emitServerDisconnected()
		default:
			t.log.Error("session ended", zap.Error(err))
		}
	}
}

// session connects (with backoff) and then runs the duplex scheduler: at most
// one in-flight write and one in-flight read, each started only when the
// previous one on that side has completed and its queue has work.
func (t *Transport) session() error {
	conn, err := t.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	t.policy.Reset()
	t.log.Info("connected")

	var writerDone, readerDone chan error
	for {
		// A side is ready to start work only when it is idle; while an
		// operation is in flight its queue signal is ignored.
		var sendAvail, readAvail <-chan struct{}
		if writerDone == nil {
			sendAvail = t.sendQ.available()
		}
		if readerDone == nil {
			readAvail = t.readQ.available()
		}

		select {
		case <-t.ctx.Done():
			// Unblock in-flight operations, then let them observe the
			// shutdown before tearing the session down.
			conn.Close()
			if writerDone != nil {
				<-writerDone
			}
			if readerDone != nil {
				<-readerDone
			}
			return ErrDisposed

		case err := <-writerDone:
			writerDone = nil
			if err != nil {
				return err
			}

		case err := <-readerDone:
			readerDone = nil
			if err != nil {
				return err
			}

		case <-sendAvail:
			req, ok := t.sendQ.tryPop()
			if !ok {
				continue
			}
			if err := req.ctx.Err(); err != nil {
				req.fut.complete(Payload{}, err)
				continue
			}
			ch := make(chan error, 1)
			writerDone = ch
			go func() { ch <- t.processWrite(conn, req) }()

		case <-readAvail:
			req, ok := t.readQ.tryPop()
			if !ok {
				continue
			}
			if err := req.ctx.Err(); err != nil {
				req.fut.complete(nil, err)
				continue
			}
			ch := make(chan error, 1)
			readerDone = ch
			go func() { ch <- t.processRead(conn, req) }()
		}
	}
}

// connect dials until it succeeds or the transport is disposed. Failures are
// absorbed: logged, counted, and retried after the policy delay.
func (t *Transport) connect() (net.Conn, error) {
	for attempt := 1; ; attempt++ {
		if t.ctx.Err() != nil {
			return nil, ErrDisposed
		}
		t.events.emitReconnectionAttempt(attempt)
		transportMetrics.ReconnectAttempts.Inc()

		conn, err := t.dialer.dial(t.ctx)
		if err == nil {
			transportMetrics.Connects.WithLabelValues("ok").Inc()
			return conn, nil
		}
		transportMetrics.Connects.WithLabelValues("error").Inc()
		cerr := &ConnectError{Endpoint: t.endpoint.String(), Attempt: attempt, Err: err}
		t.log.Warn("connect failed", zap.Int("attempt", attempt), zap.Error(cerr))

		select {
		case <-t.ctx.Done():
			return nil, ErrDisposed
		case <-time.After(t.policy.Next()):
		}
	}
}

// processWrite sends one payload. net.Conn.Write returns only when the whole
// buffer has been handed to the kernel or an error occurred, so a nil error
// means the payload was written in full.
func (t *Transport) processWrite(conn net.Conn, req *writeRequest) error {
	t.events.emitWriteAttempt(req.payload)
	transportMetrics.Writes.WithLabelValues(req.payload.APIKey.String()).Inc()

	n, err := conn.Write(req.payload.Buffer)
	if err != nil {
		if t.disposed() {
			req.fut.complete(Payload{}, ErrDisposed)
			return ErrDisposed
		}
		werr := disconnectError("write", err)
		req.fut.complete(Payload{}, werr)
		return werr
	}
	transportMetrics.BytesWritten.Add(float64(n))
	req.fut.complete(req.payload, nil)
	return nil
}

// processRead accumulates exactly req.size bytes. The caller's context is
// honoured at chunk boundaries: a cancellation before any byte arrived
// completes the request and leaves the session alive; after a partial read
// the stream position is undefined, so the session is torn down too.
func (t *Transport) processRead(conn net.Conn, req *readRequest) error {
	buf := make([]byte, req.size)
	received := 0
	for received < req.size {
		if err := req.ctx.Err(); err != nil {
			req.fut.complete(nil, err)
			if received > 0 {
				return fmt.Errorf("%w: read cancelled after %d of %d bytes", ErrServerDisconnected, received, req.size)
			}
			return nil
		}

		t.events.emitReadAttempt(req.size - received)
		n, err := conn.Read(buf[received:])
		if n > 0 {
			t.events.emitBytesReceived(n)
			transportMetrics.BytesRead.Add(float64(n))
			received += n
		}
		if err != nil {
			if t.disposed() {
				req.fut.complete(nil, ErrDisposed)
				return ErrDisposed
			}
			werr := disconnectError("read", err)
			req.fut.complete(nil, werr)
			return werr
		}
	}

	transportMetrics.Reads.Inc()
	req.fut.complete(buf, nil)
	return nil
}

// drainQueues fails everything still queued with ErrDisposed and closes both
// queues so later enqueues are rejected.
func (t *Transport) drainQueues() {
	t.sendQ.closeAndDrain(func(req *writeRequest) {
		req.fut.complete(Payload{}, ErrDisposed)
	})
	t.readQ.closeAndDrain(func(req *readRequest) {
		req.fut.complete(nil, ErrDisposed)
	})
}

func (t *Transport) disposed() bool {
	return t.ctx.Err() != nil
}

type readRequest struct {
	size int
	ctx  context.Context
	fut  *ReadFuture
}

type writeRequest struct {
	payload Payload
	ctx     context.Context
	fut     *WriteFuture
}
