package factory

import (
	"fmt"
	"net"

	"golang.org/x/time/rate"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/config"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/core"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/fileserver"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/storage/filesystem"
)

// HandlerFactory creates the connection handler and the server around it
type HandlerFactory struct {
	cfg *config.Config
}

// NewHandlerFactory creates a new handler factory
func NewHandlerFactory(cfg *config.Config) *HandlerFactory {
	return &HandlerFactory{cfg: cfg}
}

// Create creates the file-serving connection handler
func (f *HandlerFactory) Create(types core.ContentTypes) (core.ConnectionHandler, error) {
	root, err := filesystem.NewRoot(f.cfg.RootDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}

	logger.Info("Creating file handler",
		"root", root.Dir(),
		"content_type_header", f.cfg.ContentTypeHeader,
		"read_timeout", f.cfg.ReadTimeout,
		"write_timeout", f.cfg.WriteTimeout)

	if !f.cfg.ContentTypeHeader {
		logger.Debug("Content-Type header disabled; 200 responses carry the status line only")
	}

	return &fileserver.Handler{
		Files:           root,
		ContentTypes:    types,
		SendContentType: f.cfg.ContentTypeHeader,
		Sniff:           f.cfg.ContentTypeSniff,
		ReadTimeout:     f.cfg.ReadTimeout,
		WriteTimeout:    f.cfg.WriteTimeout,
	}, nil
}

// NewServer wires a listener and handler into a core.Server, adding the
// accept limiter when ACCEPT_RATE is set.
func (f *HandlerFactory) NewServer(listener net.Listener, handler core.ConnectionHandler) *core.Server {
	srv := &core.Server{
		Listener:          listener,
		ConnectionHandler: handler,
	}
	if f.cfg.AcceptRate > 0 {
		srv.AcceptLimiter = rate.NewLimiter(rate.Limit(f.cfg.AcceptRate), f.cfg.AcceptBurst)
		logger.Info("Accept rate limit enabled", "rate", f.cfg.AcceptRate, "burst", f.cfg.AcceptBurst)
	}
	return srv
}
