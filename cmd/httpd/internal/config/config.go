package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither the command line nor the environment
// provide a usable port.
const DefaultPort = 8888

// ErrPortOutOfRange is returned when a port falls outside 0-65535.
var ErrPortOutOfRange = errors.New("port number out of range")

// ContentTypeSource represents where the content-type table is loaded from
type ContentTypeSource string

const (
	ContentTypeSourceStatic     ContentTypeSource = "static"
	ContentTypeSourceKubernetes ContentTypeSource = "kubernetes"
)

// Config holds all application configuration
type Config struct {
	// Core
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format"` // text, json

	// Server
	BindAddress   string        `yaml:"bind_address"`
	Port          int           `yaml:"port"`
	RootDirectory string        `yaml:"root_directory"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	AcceptRate    float64       `yaml:"accept_rate"` // connections per second, 0 = unlimited
	AcceptBurst   int           `yaml:"accept_burst"`

	// Admin
	HealthServerEnabled bool   `yaml:"health_server_enabled"`
	HealthServerPort    string `yaml:"health_server_port"`

	// Content types
	ContentTypeHeader    bool              `yaml:"content_type_header"` // emit Content-Type on 200
	ContentTypeSniff     bool              `yaml:"content_type_sniff"`
	ContentTypes         map[string]string `yaml:"content_types"`
	ContentTypeSource    ContentTypeSource `yaml:"content_type_source"`
	ContentTypeConfigMap string            `yaml:"content_type_configmap"`

	// Kubernetes (only for the kubernetes content-type source)
	Namespace      string `yaml:"namespace"`
	KubeConfigPath string `yaml:"kubeconfig"`
	KubeContext    string `yaml:"kube_context"`
}

// ServerConfig is the immutable listener configuration.
type ServerConfig struct {
	BindAddress   string
	Port          int
	RootDirectory string
}

// NewServerConfig validates the port and makes the root directory absolute.
func NewServerConfig(bindAddress string, port int, rootDirectory string) (ServerConfig, error) {
	if err := ValidatePort(port); err != nil {
		return ServerConfig{}, err
	}
	if rootDirectory == "" {
		return ServerConfig{}, fmt.Errorf("root directory must be set")
	}
	root, err := filepath.Abs(rootDirectory)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("failed to resolve root directory %s: %w", rootDirectory, err)
	}
	return ServerConfig{
		BindAddress:   bindAddress,
		Port:          port,
		RootDirectory: root,
	}, nil
}

// ValidatePort fails with ErrPortOutOfRange for ports outside 0-65535.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrPortOutOfRange, port)
	}
	return nil
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		LogFormat:           "text",
		BindAddress:         "localhost",
		Port:                DefaultPort,
		RootDirectory:       os.TempDir(),
		ReadTimeout:         30 * time.Second,
		AcceptBurst:         1,
		HealthServerEnabled: true,
		HealthServerPort:    "8080",
		ContentTypeSniff:    true,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (CONFIG_FILE when path is empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.ContentTypeSource == "" {
		cfg.ContentTypeSource = determineContentTypeSource(cfg.ContentTypeConfigMap)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = determineNamespace()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	// Core
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	// Server
	c.BindAddress = getEnv("BIND_ADDRESS", c.BindAddress)
	if c.Port, err = getEnvInt("PORT", c.Port); err != nil {
		return err
	}
	c.RootDirectory = getEnv("ROOT_DIRECTORY", c.RootDirectory)
	if c.ReadTimeout, err = getEnvDuration("READ_TIMEOUT", c.ReadTimeout); err != nil {
		return err
	}
	if c.WriteTimeout, err = getEnvDuration("WRITE_TIMEOUT", c.WriteTimeout); err != nil {
		return err
	}
	if c.AcceptRate, err = getEnvFloat("ACCEPT_RATE", c.AcceptRate); err != nil {
		return err
	}
	if c.AcceptBurst, err = getEnvInt("ACCEPT_BURST", c.AcceptBurst); err != nil {
		return err
	}

	// Admin
	c.HealthServerEnabled = getEnvBool("HEALTH_SERVER_ENABLED", c.HealthServerEnabled)
	c.HealthServerPort = getEnv("HEALTH_SERVER_PORT", c.HealthServerPort)

	// Content types
	c.ContentTypeHeader = getEnvBool("CONTENT_TYPE_HEADER", c.ContentTypeHeader)
	c.ContentTypeSniff = getEnvBool("CONTENT_TYPE_SNIFF", c.ContentTypeSniff)
	if raw := os.Getenv("CONTENT_TYPES"); raw != "" {
		entries, err := parsePairs(raw)
		if err != nil {
			return fmt.Errorf("invalid CONTENT_TYPES: %w", err)
		}
		if c.ContentTypes == nil {
			c.ContentTypes = make(map[string]string, len(entries))
		}
		for ext, mime := range entries {
			c.ContentTypes[ext] = mime
		}
	}
	if source := os.Getenv("CONTENT_TYPE_SOURCE"); source != "" {
		c.ContentTypeSource = ContentTypeSource(strings.ToLower(source))
	}
	c.ContentTypeConfigMap = getEnv("CONTENT_TYPE_CONFIGMAP", c.ContentTypeConfigMap)

	// Kubernetes
	c.Namespace = getEnv("NAMESPACE", c.Namespace)
	c.KubeConfigPath = getEnv("KUBECONFIG", c.KubeConfigPath)
	c.KubeContext = getEnv("KUBE_CONTEXT", c.KubeContext)

	return nil
}

// Validate ensures configuration is coherent
func (c *Config) Validate() error {
	if err := ValidatePort(c.Port); err != nil {
		return err
	}

	if c.RootDirectory == "" {
		return fmt.Errorf("ROOT_DIRECTORY must be set")
	}

	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if c.AcceptRate < 0 {
		return fmt.Errorf("ACCEPT_RATE must not be negative: %v", c.AcceptRate)
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return fmt.Errorf("ACCEPT_BURST must be at least 1 when ACCEPT_RATE is set")
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, strings.ToLower(c.LogFormat)) {
		return fmt.Errorf("unsupported LOG_FORMAT: %s (supported: %s)",
			c.LogFormat, strings.Join(validFormats, ", "))
	}

	switch c.ContentTypeSource {
	case ContentTypeSourceStatic:
	case ContentTypeSourceKubernetes:
		if c.ContentTypeConfigMap == "" {
			return fmt.Errorf("CONTENT_TYPE_CONFIGMAP must be set when using the kubernetes content-type source")
		}
	default:
		return fmt.Errorf("unsupported CONTENT_TYPE_SOURCE: %s", c.ContentTypeSource)
	}

	if c.HealthServerEnabled && c.HealthServerPort == "" {
		return fmt.Errorf("HEALTH_SERVER_PORT must be set when the health server is enabled")
	}

	return nil
}

// ServerConfig returns the listener part of the configuration.
func (c *Config) ServerConfig() (ServerConfig, error) {
	return NewServerConfig(c.BindAddress, c.Port, c.RootDirectory)
}

// ParsePort parses a port argument, rejecting non-numbers and out of range values.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("illegal port number %q: %w", s, err)
	}
	if err := ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return intValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return floatValue, nil
}

// getEnvDuration accepts Go durations ("30s") and bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// parsePairs parses "key=value,key=value".
func parsePairs(s string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid mapping format: %s", pair)
		}
		pairs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return pairs, nil
}

func determineContentTypeSource(configMap string) ContentTypeSource {
	// Auto-detect: kubernetes if a ConfigMap is named
	if configMap != "" {
		return ContentTypeSourceKubernetes
	}
	return ContentTypeSourceStatic
}

func determineNamespace() string {
	// Kubernetes downward API
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}

	// Read from service account (in-cluster)
	if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		return strings.TrimSpace(string(data))
	}

	return "default"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
