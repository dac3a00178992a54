package fileserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxRequestLine bounds how much is read while looking for the first newline.
const maxRequestLine = 8 << 10

var (
	// ErrEmptyRequest means the peer closed the stream before sending anything.
	ErrEmptyRequest = errors.New("connection closed before a request line was read")
	// ErrMalformedRequest means the request line has no target.
	ErrMalformedRequest = errors.New("malformed request line")
)

// Request is what we keep of the first line; nothing after it is read.
type Request struct {
	Method string
	Target string
	Proto  string
	Line   string
}

// ReadRequest reads one newline-terminated line from r and parses it. A
// final line without a terminator still counts as the request line.
func ReadRequest(r io.Reader) (*Request, error) {
	lr := &io.LimitedReader{R: r, N: maxRequestLine + 1}
	br := bufio.NewReader(lr)

	line, err := br.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			return nil, fmt.Errorf("failed to read request line: %w", err)
		}
		if line == "" {
			return nil, ErrEmptyRequest
		}
		if lr.N == 0 {
			return nil, fmt.Errorf("%w: longer than %d bytes", ErrMalformedRequest, maxRequestLine)
		}
	}

	return ParseRequestLine(line)
}

// ParseRequestLine splits "METHOD SP TARGET SP VERSION" into at most three
// parts. Only the target is required.
func ParseRequestLine(line string) (*Request, error) {
	line = strings.TrimRight(line, "\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequest, line)
	}

	req := &Request{
		Method: parts[0],
		Target: parts[1],
		Line:   line,
	}
	if len(parts) == 3 {
		req.Proto = parts[2]
	}
	return req, nil
}
