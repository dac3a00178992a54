package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/api"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/config"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/core"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/factory"
	"github.com/hasirciogluhq/xstatic/cmd/httpd/internal/logger"
)

const shutdownGracePeriod = 10 * time.Second

type options struct {
	configPath string
	root       string
	bind       string
	debug      bool
	help       bool
	args       []string
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("xstatic", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&opts.root, "root", "r", "", "directory to serve files from")
	fs.StringVarP(&opts.bind, "bind", "b", "", "address to listen on")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	fs.BoolVarP(&opts.help, "help", "h", false, "show this help")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xstatic [flags] [port]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	opts.args = fs.Args()
	return opts, fs, nil
}

// portFromArgs returns the port named by the first positional argument.
// Anything that isn't a port in range falls back to def.
func portFromArgs(args []string, def int) int {
	if len(args) == 0 {
		return def
	}
	port, err := config.ParsePort(args[0])
	if err != nil {
		logger.Warn("Illegal port number", "value", args[0], "error", err)
		logger.Warn("Will use port", "port", def)
		return def
	}
	return port
}

func (o *options) apply(cfg *config.Config) {
	if o.root != "" {
		cfg.RootDirectory = o.root
	}
	if o.bind != "" {
		cfg.BindAddress = o.bind
	}
	if o.debug {
		cfg.Debug = true
	}
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Argument error: %v\n", err)
		fs.Usage()
		os.Exit(2)
	}
	if opts.help {
		fs.Usage()
		os.Exit(0)
	}

	// Load configuration from file and environment
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	opts.apply(cfg)

	// Initialize logger
	logger.Init(logger.Options{Debug: cfg.Debug, Format: cfg.LogFormat})
	logger.Info("Starting xstatic...",
		"root", cfg.RootDirectory,
		"content_type_source", cfg.ContentTypeSource,
		"content_type_header", cfg.ContentTypeHeader)

	// The positional port wins over PORT and the config file
	cfg.Port = portFromArgs(opts.args, cfg.Port)

	serverCfg, err := cfg.ServerConfig()
	if err != nil {
		logger.Fatal("Invalid server configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Build the content-type table before the listener starts
	types, err := factory.NewContentTypeFactory(cfg).Create(ctx)
	if err != nil {
		logger.Fatal("Failed to create content-type table", "error", err)
	}

	handlerFactory := factory.NewHandlerFactory(cfg)
	connectionHandler, err := handlerFactory.Create(types)
	if err != nil {
		logger.Fatal("Failed to create file handler", "error", err)
	}

	listener, err := core.Listen(serverCfg.BindAddress, serverCfg.Port)
	if err != nil {
		logger.Fatal("Failed to start listener", "error", err)
	}
	server := handlerFactory.NewServer(listener, connectionHandler)

	// Start health server
	var healthServer *api.HealthServer
	if cfg.HealthServerEnabled {
		healthServer = api.NewHealthServer(net.JoinHostPort(cfg.BindAddress, cfg.HealthServerPort), server)
		healthServer.Start()
		logger.Info("Health server started", "port", cfg.HealthServerPort)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx)
	}()

	if healthServer != nil {
		healthServer.SetReady(true)
	}
	logger.Info("Ready to accept connections", "port", serverCfg.Port)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", "error", err)
		}
	}

	if healthServer != nil {
		healthServer.SetReady(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err, "active", server.Stats().Active)
	}
	if healthServer != nil {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Failed to stop health server", "error", err)
		}
	}
	logger.Info("Server stopped")
}
