package core

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// echoHandler writes back the first line it reads.
type echoHandler struct{}

func (echoHandler) HandleConnection(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	_, _ = conn.Write([]byte(line))
}

// blockingHandler holds every connection until release is closed.
type blockingHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) HandleConnection(conn net.Conn) {
	defer conn.Close()
	h.started <- struct{}{}
	<-h.release
	_, _ = conn.Write([]byte("done\n"))
}

func startServer(t *testing.T, handler ConnectionHandler) (*Server, chan error) {
	t.Helper()
	listener, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	srv := &Server{Listener: listener, ConnectionHandler: handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(context.Background())
	}()
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, errCh
}

func roundTrip(t *testing.T, addr net.Addr, msg string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestListenBindError(t *testing.T) {
	first, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer first.Close()

	port := first.Addr().(*net.TCPAddr).Port
	_, err = Listen("127.0.0.1", port)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Contains(t, bindErr.Addr, "127.0.0.1")
}

func TestListenUnresolvableAddress(t *testing.T) {
	_, err := Listen("127.0.0.1", 70000)
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
}

func TestServeDispatchesConnections(t *testing.T) {
	srv, _ := startServer(t, echoHandler{})

	assert.Equal(t, "hello\n", roundTrip(t, srv.Listener.Addr(), "hello\n"))
	assert.Equal(t, "again\n", roundTrip(t, srv.Listener.Addr(), "again\n"))

	assert.Eventually(t, func() bool {
		stats := srv.Stats()
		return stats.Accepted == 2 && stats.Active == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSlowHandlerDoesNotBlockAccept(t *testing.T) {
	slow := &blockingHandler{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv, _ := startServer(t, slow)

	held, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer held.Close()
	<-slow.started

	// A second connection is accepted while the first handler is still busy.
	second, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("second connection was not dispatched")
	}

	assert.Equal(t, int64(2), srv.Stats().Active)
	close(slow.release)
}

func TestStopReturnsImmediately(t *testing.T) {
	srv, errCh := startServer(t, echoHandler{})

	require.NoError(t, srv.Stop())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	_, err := net.DialTimeout("tcp", srv.Listener.Addr().String(), 200*time.Millisecond)
	require.Error(t, err, "no new connections after Stop")

	// Stop is idempotent
	require.NoError(t, srv.Stop())
}

func TestContextCancelStopsServe(t *testing.T) {
	listener, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	srv := &Server{Listener: listener, ConnectionHandler: echoHandler{}}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeAfterStop(t *testing.T) {
	listener, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	srv := &Server{Listener: listener, ConnectionHandler: echoHandler{}}

	require.NoError(t, srv.Stop())
	require.ErrorIs(t, srv.Serve(context.Background()), ErrServerClosed)
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	slow := &blockingHandler{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv, _ := startServer(t, slow)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-slow.started

	// Not finished yet: Shutdown gives up when its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, srv.Shutdown(ctx), context.DeadlineExceeded)

	// The in-flight connection still completes after the listener is gone.
	close(slow.release)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "done\n", line)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestPanicIsContained(t *testing.T) {
	var once sync.Once
	handler := handlerFunc(func(conn net.Conn) {
		first := false
		once.Do(func() { first = true })
		if first {
			panic("boom")
		}
		echoHandler{}.HandleConnection(conn)
	})
	srv, _ := startServer(t, handler)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err, "panicking handler's connection is closed")
	conn.Close()

	assert.Equal(t, "still up\n", roundTrip(t, srv.Listener.Addr(), "still up\n"))
	assert.Equal(t, int64(1), srv.Stats().Panicked)
}

func TestAcceptLimiterCancelledByStop(t *testing.T) {
	listener, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	// One token per hour: after the first accept the loop waits on the limiter.
	srv := &Server{
		Listener:          listener,
		ConnectionHandler: echoHandler{},
		AcceptLimiter:     rate.NewLimiter(rate.Every(time.Hour), 1),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	assert.Equal(t, "first\n", roundTrip(t, listener.Addr(), "first\n"))

	require.NoError(t, srv.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("limiter wait was not cancelled")
	}
}

func TestBindErrorUnwrap(t *testing.T) {
	inner := errors.New("address in use")
	err := &BindError{Addr: ":80", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "failed to listen on :80: address in use", err.Error())
}

type handlerFunc func(net.Conn)

func (f handlerFunc) HandleConnection(conn net.Conn) { f(conn) }
