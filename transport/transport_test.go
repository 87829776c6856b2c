package transport_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dbranscombe/kafka-net/logger"
	"github.com/dbranscombe/kafka-net/transport"
)

// mockServer accepts connections on 127.0.0.1 and runs handler on each, in
// accept order, one goroutine per connection.
type mockServer struct {
	ln net.Listener
}

func startServer(t *testing.T, handler func(conn net.Conn)) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return &mockServer{ln: ln}
}

func (s *mockServer) endpoint(t *testing.T) transport.Endpoint {
	t.Helper()
	port := s.ln.Addr().(*net.TCPAddr).Port
	ep, err := transport.ResolveEndpoint("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func fastOptions() transport.Options {
	return transport.Options{
		InitialBackoff:      10 * time.Millisecond,
		MaxReconnectBackoff: 100 * time.Millisecond,
		CloseTimeout:        5 * time.Second,
	}
}

func newTransport(t *testing.T, ep transport.Endpoint, opts transport.Options) *transport.Transport {
	t.Helper()
	tr, err := transport.New(ep, opts, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestEchoRoundTrip(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	payload := transport.Payload{Buffer: bytes.Repeat([]byte{0xAB}, 64), CorrelationID: 7}
	wf, err := tr.WriteAsync(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	rf, err := tr.ReadAsync(context.Background(), 64)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	written, err := wf.Await(ctx)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if written.CorrelationID != 7 || len(written.Buffer) != 64 {
		t.Errorf("write result payload mangled: %+v", written)
	}
	data, err := rf.Await(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, payload.Buffer) {
		t.Error("read bytes differ from written bytes")
	}
}

func TestSplitRead(t *testing.T) {
	first := bytes.Repeat([]byte{0x01}, 40)
	second := bytes.Repeat([]byte{0x02}, 60)
	srv := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		conn.Write(first)
		time.Sleep(50 * time.Millisecond)
		conn.Write(second)
		time.Sleep(time.Second)
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	var mu sync.Mutex
	var chunks []int
	tr.OnBytesReceived(func(n int) {
		mu.Lock()
		chunks = append(chunks, n)
		mu.Unlock()
	})

	rf, err := tr.ReadAsync(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := rf.Await(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 100 {
		t.Fatalf("got %d bytes, want 100", len(data))
	}
	if !bytes.Equal(data[:40], first) || !bytes.Equal(data[40:], second) {
		t.Error("bytes out of order")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(chunks) < 2 {
		t.Errorf("expected at least 2 chunks, got %d", len(chunks))
	}
	sum := 0
	for _, n := range chunks {
		sum += n
	}
	if sum != 100 {
		t.Errorf("chunk sizes sum to %d, want 100", sum)
	}
}

func TestMidStreamDisconnectAndReconnect(t *testing.T) {
	conns := make(chan net.Conn, 2)
	srv := startServer(t, func(conn net.Conn) { conns <- conn })
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	disconnected := make(chan struct{}, 4)
	tr.OnServerDisconnected(func() { disconnected <- struct{}{} })
	attempts := make(chan int, 64)
	tr.OnReconnectionAttempt(func(n int) { attempts <- n })

	// First connection: send 30 of the requested 100 bytes, then close.
	var first net.Conn
	select {
	case first = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}
	drainAttempts(attempts)

	rf, err := tr.ReadAsync(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond) // let the read start
	first.Write(bytes.Repeat([]byte{0xFF}, 30))
	time.Sleep(20 * time.Millisecond)
	first.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rf.Await(ctx); !errors.Is(err, transport.ErrServerDisconnected) {
		t.Fatalf("expected ErrServerDisconnected, got %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Error("OnServerDisconnected did not fire")
	}
	select {
	case <-attempts: // reconnection begins promptly
	case <-time.After(time.Second):
		t.Error("no reconnection attempt after disconnect")
	}

	// Second connection: the transport works again.
	var second net.Conn
	select {
	case second = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnection")
	}
	go func() {
		buf := make([]byte, 8)
		if _, err := second.Read(buf); err == nil {
			second.Write(buf)
		}
	}()
	wf, err := tr.WriteAsync(context.Background(), transport.Payload{Buffer: []byte("12345678")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wf.Await(ctx); err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}
	rf2, err := tr.ReadAsync(context.Background(), 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rf2.Await(ctx); err != nil {
		t.Fatalf("read after reconnect: %v", err)
	}
}

func drainAttempts(ch chan int) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestBackoffWhileRefused(t *testing.T) {
	// Grab a port with no listener behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	ep, err := transport.ResolveEndpoint("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}

	opts := transport.Options{
		InitialBackoff:      10 * time.Millisecond,
		MaxReconnectBackoff: 50 * time.Millisecond,
		CloseTimeout:        5 * time.Second,
	}
	type stamp struct {
		n  int
		at time.Time
	}
	stamps := make(chan stamp, 256)
	tr, err := transport.New(ep, opts, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	tr.OnReconnectionAttempt(func(n int) { stamps <- stamp{n: n, at: time.Now()} })

	// Delays are 10, 20, 40, 50, 50, ...: collect enough attempts to be
	// past the cap and verify attempts keep coming with capped spacing.
	var seen []stamp
	deadline := time.After(3 * time.Second)
	for len(seen) < 8 {
		select {
		case s := <-stamps:
			seen = append(seen, s)
		case <-deadline:
			t.Fatalf("only %d attempts before deadline", len(seen))
		}
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].n != seen[i-1].n+1 {
			t.Errorf("attempt numbers not consecutive: %d then %d", seen[i-1].n, seen[i].n)
		}
	}
	// The last gaps should be at (or near) the cap, never far above it.
	gap := seen[7].at.Sub(seen[6].at)
	if gap < 35*time.Millisecond || gap > 500*time.Millisecond {
		t.Errorf("capped gap out of range: %v", gap)
	}
}

func TestCloseWhileIdle(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		buf := make([]byte, 1)
		conn.Read(buf)
		conn.Close()
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())
	time.Sleep(50 * time.Millisecond) // let it connect

	start := time.Now()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("close took %v, want < 1s", elapsed)
	}
	if _, err := tr.ReadAsync(context.Background(), 1); !errors.Is(err, transport.ErrDisposed) {
		t.Errorf("read after close: got %v, want ErrDisposed", err)
	}
	if _, err := tr.WriteAsync(context.Background(), transport.Payload{Buffer: []byte{1}}); !errors.Is(err, transport.ErrDisposed) {
		t.Errorf("write after close: got %v, want ErrDisposed", err)
	}
	// Close is idempotent.
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseDuringBlockedRead(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		// Never send anything; hold the connection open.
		buf := make([]byte, 1)
		conn.Read(buf)
		conn.Close()
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	rf, err := tr.ReadAsync(context.Background(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // read is now blocked on the socket

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-rf.Done():
	case <-time.After(time.Second):
		t.Fatal("read future not completed by close")
	}
	if _, err := rf.Result(); !errors.Is(err, transport.ErrDisposed) {
		t.Errorf("in-flight read failed with %v, want ErrDisposed", err)
	}
}

func TestQueuedRequestsFailOnClose(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		buf := make([]byte, 1)
		conn.Read(buf)
		conn.Close()
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	var futures []*transport.ReadFuture
	for i := 0; i < 3; i++ {
		rf, err := tr.ReadAsync(context.Background(), 100)
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, rf)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	for i, rf := range futures {
		select {
		case <-rf.Done():
		case <-time.After(time.Second):
			t.Fatalf("future %d not completed", i)
		}
		if _, err := rf.Result(); !errors.Is(err, transport.ErrDisposed) {
			t.Errorf("future %d: got %v, want ErrDisposed", i, err)
		}
	}
}

func TestWriteOrdering(t *testing.T) {
	var srvMu sync.Mutex
	received := &bytes.Buffer{}
	srv := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			srvMu.Lock()
			received.Write(buf[:n])
			srvMu.Unlock()
		}
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	var mu sync.Mutex
	var attemptOrder []int32
	tr.OnWriteToSocketAttempt(func(p transport.Payload) {
		mu.Lock()
		attemptOrder = append(attemptOrder, p.CorrelationID)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var futures []*transport.WriteFuture
	for i := int32(1); i <= 5; i++ {
		wf, err := tr.WriteAsync(context.Background(), transport.Payload{
			Buffer:        []byte{byte(i)},
			CorrelationID: i,
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, wf)
	}
	for i, wf := range futures {
		if _, err := wf.Await(ctx); err != nil {
			t.Fatalf("write %d: %v", i+1, err)
		}
	}

	mu.Lock()
	if len(attemptOrder) != 5 {
		t.Fatalf("got %d write attempts, want 5", len(attemptOrder))
	}
	for i, id := range attemptOrder {
		if id != int32(i+1) {
			t.Errorf("attempt %d has correlation id %d", i, id)
		}
	}
	mu.Unlock()

	// The bytes arrive in enqueue order too.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srvMu.Lock()
		n := received.Len()
		srvMu.Unlock()
		if n >= 5 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	srvMu.Lock()
	defer srvMu.Unlock()
	if got := received.Bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("server received %v, want [1 2 3 4 5]", got)
	}
}

func TestCancelledQueuedReadIsSkipped(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	})
	tr := newTransport(t, srv.endpoint(t), fastOptions())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	rf, err := tr.ReadAsync(cancelled, 10)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if _, err := rf.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled read: got %v, want context.Canceled", err)
	}

	// The session survived: a normal round-trip still works.
	wf, err := tr.WriteAsync(context.Background(), transport.Payload{Buffer: []byte("ping")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wf.Await(ctx); err != nil {
		t.Fatalf("write after cancelled read: %v", err)
	}
	rf2, err := tr.ReadAsync(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rf2.Await(ctx); err != nil {
		t.Fatalf("read after cancelled read: %v", err)
	}
}

func TestReadSizeValidation(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) { conn.Close() })
	tr := newTransport(t, srv.endpoint(t), fastOptions())
	if _, err := tr.ReadAsync(context.Background(), 0); err == nil {
		t.Error("expected error for zero-size read")
	}
	if _, err := tr.ReadAsync(context.Background(), -5); err == nil {
		t.Error("expected error for negative-size read")
	}
}
