package fileserver

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/contenttype"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/core"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/storage/filesystem"
)

const (
	copyBufferSize = 32 << 10
	// sniffLen is how much of a file is inspected when guessing its type.
	sniffLen = 3072
)

// FileSystem opens request targets. *filesystem.Root implements it.
type FileSystem interface {
	Open(target string) (*os.File, fs.FileInfo, error)
}

// Handler implements core.ConnectionHandler: one request line in, one file
// (or error page) out, then the connection is closed.
type Handler struct {
	Files        FileSystem
	ContentTypes core.ContentTypes

	// SendContentType adds a Content-Type header to 200 responses.
	SendContentType bool
	// Sniff guesses the type of files whose extension isn't in ContentTypes.
	Sniff bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// HandleConnection implements core.ConnectionHandler.
// It takes full ownership of the connection lifecycle.
func (h *Handler) HandleConnection(conn net.Conn) {
	defer conn.Close()

	log := logger.With("conn_id", uuid.NewString(), "remote_addr", conn.RemoteAddr().String())
	h.setDeadlines(conn, log)

	// 1. Read the request line
	req, err := ReadRequest(conn)
	if errors.Is(err, ErrEmptyRequest) {
		log.Debug("Connection closed without a request")
		return
	}

	w := bufio.NewWriterSize(conn, copyBufferSize)
	defer func() {
		if err := w.Flush(); err != nil {
			log.Debug("Failed to flush response", "error", err)
		}
	}()

	if err != nil {
		if !errors.Is(err, ErrMalformedRequest) {
			log.Warn("Failed to read request", "error", err)
			return
		}
		log.Warn("Rejected request", "error", err)
		if err := writeError(w, StatusBadRequest); err != nil {
			log.Debug("Failed to write response", "error", err)
		}
		return
	}

	// 2. Resolve, open and stream the target
	status, n := h.serve(w, req, log)

	log.Info("Request", "line", req.Line, "status", int(status), "bytes", n)
}

func (h *Handler) serve(w io.Writer, req *Request, log *slog.Logger) (StatusCode, int64) {
	f, _, err := h.Files.Open(req.Target)
	if err != nil {
		status := statusFor(err)
		var writeErr error
		switch status {
		case StatusNotFound:
			writeErr = writeNotFound(w, err.Error())
		case StatusInternalServerError:
			log.Error("Failed to open file", "target", req.Target, "error", err)
			writeErr = writeError(w, status)
		default:
			log.Warn("Refused target", "target", req.Target, "error", err)
			writeErr = writeError(w, status)
		}
		if writeErr != nil {
			log.Debug("Failed to write response", "error", writeErr)
		}
		return status, 0
	}
	defer f.Close()

	n, err := h.sendFile(w, f)
	if err != nil {
		// Nothing sensible can be sent once the head is out; just drop the connection.
		log.Warn("File transfer aborted", "target", req.Target, "bytes", n, "error", err)
	}
	return StatusOK, n
}

// sendFile writes the 200 head and copies f through a fixed 32 KiB buffer.
func (h *Handler) sendFile(w io.Writer, f *os.File) (int64, error) {
	buf := make([]byte, copyBufferSize)

	if !h.SendContentType {
		if err := writeOK(w, ""); err != nil {
			return 0, err
		}
		return copyStream(w, f, buf)
	}

	// The type may depend on the first bytes, so read them before the head.
	head, err := io.ReadFull(f, buf[:sniffLen])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	if err := writeOK(w, h.contentType(f.Name(), buf[:head])); err != nil {
		return 0, err
	}
	if _, err := w.Write(buf[:head]); err != nil {
		return 0, err
	}
	n, err := copyStream(w, f, buf)
	return int64(head) + n, err
}

func (h *Handler) contentType(name string, head []byte) string {
	if h.ContentTypes != nil {
		if ext := filepath.Ext(name); ext != "" {
			if mime, ok := h.ContentTypes.Lookup(ext); ok {
				return mime
			}
		}
	}
	if h.Sniff {
		return mimetype.Detect(head).String()
	}
	return contenttype.DefaultType
}

func (h *Handler) setDeadlines(conn net.Conn, log *slog.Logger) {
	now := time.Now()
	if h.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(now.Add(h.ReadTimeout)); err != nil {
			log.Debug("Failed to set read deadline", "error", err)
		}
	}
	if h.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(now.Add(h.WriteTimeout)); err != nil {
			log.Debug("Failed to set write deadline", "error", err)
		}
	}
}

// copyStream copies src to dst in buf-sized chunks.
func copyStream(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func statusFor(err error) StatusCode {
	switch {
	case errors.Is(err, filesystem.ErrOutsideRoot):
		return StatusForbidden
	case errors.Is(err, filesystem.ErrInvalidTarget):
		return StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return StatusNotFound
	default:
		return StatusInternalServerError
	}
}
