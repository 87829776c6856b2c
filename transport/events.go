package transport

import "sync"

// events is the multicast list for the five observability hooks. Subscribers
// are invoked synchronously from the transport goroutine and must not block;
// anything slow belongs on the subscriber's own goroutine.
type events struct {
	mu                  sync.Mutex
	serverDisconnected  []func()
	reconnectionAttempt []func(attempt int)
	readAttempt         []func(size int)
	bytesReceived       []func(n int)
	writeAttempt        []func(p Payload)
}

func (e *events) onServerDisconnected(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serverDisconnected = append(e.serverDisconnected, fn)
}

func (e *events) onReconnectionAttempt(fn func(int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconnectionAttempt = append(e.reconnectionAttempt, fn)
}

func (e *events) onReadAttempt(fn func(int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readAttempt = append(e.readAttempt, fn)
}

func (e *events) onBytesReceived(fn func(int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bytesReceived = append(e.bytesReceived, fn)
}

func (e *events) onWriteAttempt(fn func(Payload)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeAttempt = append(e.writeAttempt, fn)
}

func (e *events) emitServerDisconnected() {
	for _, fn := range e.snapshotDisconnected() {
		fn()
	}
}

func (e *events) emitReconnectionAttempt(attempt int) {
	e.mu.Lock()
	fns := append(([]func(int))(nil), e.reconnectionAttempt...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(attempt)
	}
}

func (e *events) emitReadAttempt(size int) {
	e.mu.Lock()
	fns := append(([]func(int))(nil), e.readAttempt...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(size)
	}
}

func (e *events) emitBytesReceived(n int) {
	e.mu.Lock()
	fns := append(([]func(int))(nil), e.bytesReceived...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (e *events) emitWriteAttempt(p Payload) {
	e.mu.Lock()
	fns := append(([]func(Payload))(nil), e.writeAttempt...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (e *events) snapshotDisconnected() []func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(([]func())(nil), e.serverDisconnected...)
}
