package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment can't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "DEBUG", "LOG_FORMAT", "BIND_ADDRESS", "PORT", "ROOT_DIRECTORY",
		"READ_TIMEOUT", "WRITE_TIMEOUT", "ACCEPT_RATE", "ACCEPT_BURST",
		"HEALTH_SERVER_ENABLED", "HEALTH_SERVER_PORT", "CONTENT_TYPE_HEADER",
		"CONTENT_TYPE_SNIFF", "CONTENT_TYPES", "CONTENT_TYPE_SOURCE",
		"CONTENT_TYPE_CONFIGMAP", "NAMESPACE", "POD_NAMESPACE", "KUBECONFIG", "KUBE_CONTEXT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestNewServerConfig(t *testing.T) {
	root := t.TempDir()

	testCases := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"lowest port", 0, false},
		{"default port", DefaultPort, false},
		{"highest port", 65535, false},
		{"negative port", -1, true},
		{"port too large", 65536, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewServerConfig("localhost", tc.port, root)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrPortOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.port, cfg.Port)
			assert.Equal(t, root, cfg.RootDirectory)
		})
	}
}

func TestNewServerConfigMakesRootAbsolute(t *testing.T) {
	cfg, err := NewServerConfig("localhost", 80, "relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.RootDirectory))

	_, err = NewServerConfig("localhost", 80, "")
	require.Error(t, err)
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort(" 9090 ")
	require.NoError(t, err)
	assert.Equal(t, 9090, port)

	_, err = ParsePort("http")
	require.Error(t, err)

	_, err = ParsePort("70000")
	require.ErrorIs(t, err, ErrPortOutOfRange)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.BindAddress)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, os.TempDir(), cfg.RootDirectory)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Zero(t, cfg.WriteTimeout)
	assert.False(t, cfg.ContentTypeHeader)
	assert.Equal(t, ContentTypeSourceStatic, cfg.ContentTypeSource)
	assert.Equal(t, "default", cfg.Namespace)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("BIND_ADDRESS", "0.0.0.0")
	t.Setenv("READ_TIMEOUT", "5")
	t.Setenv("WRITE_TIMEOUT", "1m")
	t.Setenv("CONTENT_TYPES", "css=text/css, js=text/javascript")
	t.Setenv("CONTENT_TYPE_CONFIGMAP", "mime-types")
	t.Setenv("POD_NAMESPACE", "web")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Minute, cfg.WriteTimeout)
	assert.Equal(t, map[string]string{"css": "text/css", "js": "text/javascript"}, cfg.ContentTypes)
	assert.Equal(t, ContentTypeSourceKubernetes, cfg.ContentTypeSource)
	assert.Equal(t, "web", cfg.Namespace)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "xstatic.yaml")
	data := []byte(`
port: 7000
root_directory: /srv/www
read_timeout: 2s
content_type_header: true
content_types:
  md: text/markdown
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("PORT", "7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Port, "environment overrides the file")
	assert.Equal(t, "/srv/www", cfg.RootDirectory)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.ContentTypeHeader)
	assert.Equal(t, "text/markdown", cfg.ContentTypes["md"])
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"PORT": "65536"}},
		{"port not a number", map[string]string{"PORT": "eighty"}},
		{"bad duration", map[string]string{"READ_TIMEOUT": "soon"}},
		{"bad mapping", map[string]string{"CONTENT_TYPES": "css"}},
		{"kubernetes without configmap", map[string]string{"CONTENT_TYPE_SOURCE": "kubernetes"}},
		{"unknown source", map[string]string{"CONTENT_TYPE_SOURCE": "vault"}},
		{"unknown log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"negative accept rate", map[string]string{"ACCEPT_RATE": "-1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
