package core

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
)

// ErrServerClosed is returned by Serve after Stop has been called.
var ErrServerClosed = errors.New("server closed")

// Server is the generic TCP accept loop.
// It depends ONLY on the ConnectionHandler interface.
type Server struct {
	Listener          net.Listener
	ConnectionHandler ConnectionHandler
	// AcceptLimiter throttles accepts when set.
	AcceptLimiter *rate.Limiter

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	cancel context.CancelFunc

	wg       sync.WaitGroup
	accepted atomic.Int64
	active   atomic.Int64
	panicked atomic.Int64
}

// Listen resolves bindAddress and opens a TCP listener on port.
func Listen(bindAddress string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return listener, nil
}

// Serve accepts connections until Stop is called or ctx is cancelled, in
// which case it returns nil. Each connection is handed to its own goroutine
// and the loop goes straight back to Accept.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	logger.Info("Server listening", "addr", s.Listener.Addr().String())

	// Closing the listener is what unblocks Accept.
	go func() {
		<-ctx.Done()
		s.closed.Store(true)
		s.closeListener()
	}()

	for {
		if s.AcceptLimiter != nil {
			if err := s.AcceptLimiter.Wait(ctx); err != nil {
				if s.closed.Load() || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		conn, err := s.Listener.Accept()
		if err != nil {
			// distinguishes between shutdown and unexpected errors
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("Accept failed", "error", err)
			return err
		}

		s.accepted.Add(1)
		s.active.Add(1)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			logger.Error("Connection handler panicked", "remote_addr", conn.RemoteAddr(), "panic", r)
			_ = conn.Close()
		}
		s.active.Add(-1)
		s.wg.Done()
	}()

	// Delegate the entire lifecycle to the handler
	s.ConnectionHandler.HandleConnection(conn)
}

// Stop makes Serve return immediately. Connections already accepted keep
// running. It is safe to call more than once and before Serve.
func (s *Server) Stop() error {
	s.closed.Store(true)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	return s.closeListener()
}

// Shutdown stops accepting and waits for in-flight connections until they
// finish or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current connection counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Active:   s.active.Load(),
		Panicked: s.panicked.Load(),
	}
}

func (s *Server) closeListener() error {
	s.closeOnce.Do(func() {
		if s.Listener != nil {
			if err := s.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
