package core

import (
	"fmt"
	"net"
)

// ConnectionHandler owns one accepted connection for its whole lifetime,
// including closing it.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

// ContentTypes is the read-only extension to MIME lookup consulted while
// building responses.
type ContentTypes interface {
	Lookup(ext string) (string, bool)
}

// BindError reports a failure to resolve the bind address or open the
// listening socket.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Stats is a snapshot of the server's connection counters.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Active   int64 `json:"active"`
	Panicked int64 `json:"panicked"`
}
