package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"LOADER_URL", "CODEC", "CREATE_TIMEOUT", "STORE", "STORE_PATH", "STORE_DSN", "REDIS_ADDR", "SIGNALS", "MAX_ATTEMPTS", "LOG_FILE"} {
		t.Setenv(EnvPrefix+k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, s.CreateTimeout)
	require.Equal(t, transport.SocketIOCodecName, s.Codec)
	require.Equal(t, sessionstore.BackendFile, s.Store.Backend)
	require.NotEmpty(t, s.Store.Path)
	require.False(t, s.Signals.Enabled)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "widget.yaml", `
loader_url: https://support.example.com/static/chat-widget.js?project_id=7
codec: envelope
create_timeout: 20s
store:
  backend: sqlite
  path: /tmp/w.db
reconnect:
  initial_delay: 1s
  max_attempts: 5
log:
  level: debug
  format: json
`)
	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://support.example.com/static/chat-widget.js?project_id=7", s.LoaderURL)
	require.Equal(t, transport.EnvelopeCodecName, s.Codec)
	require.Equal(t, 20*time.Second, s.CreateTimeout)
	require.Equal(t, sessionstore.BackendSQLite, s.Store.Backend)
	require.Equal(t, "/tmp/w.db", s.Store.Path)
	require.Equal(t, time.Second, s.Reconnect.InitialDelay)
	require.Equal(t, 10*time.Second, s.Reconnect.MaxDelay)
	require.Equal(t, 5, s.Reconnect.MaxAttempts)
	require.Equal(t, "debug", s.Log.Level)

	opts := s.StoreOptions()
	require.Equal(t, "/tmp/w.db", opts.Path)
	topts, err := s.TransportOptions()
	require.NoError(t, err)
	require.Len(t, topts, 3)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "widget.toml", `
loader_url = "http://localhost:5000/static/chat-widget.js?project_id=1"
create_timeout = "5s"

[store]
backend = "memory"

[signals]
enabled = true
addr = "localhost:6379"
`)
	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, s.CreateTimeout)
	require.Equal(t, sessionstore.BackendMemory, s.Store.Backend)
	require.True(t, s.Signals.Enabled)
	require.Equal(t, "localhost:6379", s.Signals.Addr)
	require.NotEmpty(t, s.Signals.Topic)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "widget.yaml", "create_timeout: 20s\n")
	t.Setenv("CMR_CREATE_TIMEOUT", "3s")
	t.Setenv("CMR_STORE", "redis")
	t.Setenv("CMR_REDIS_ADDR", "localhost:6379")
	t.Setenv("CMR_LOADER_URL", "http://localhost:5000/w.js?project_id=9")

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, s.CreateTimeout)
	require.Equal(t, sessionstore.BackendRedis, s.Store.Backend)
	require.Equal(t, "localhost:6379", s.Store.RedisAddr)
	require.Equal(t, "http://localhost:5000/w.js?project_id=9", s.LoaderURL)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"bad.yaml":      "create_timeout: soon\n",
		"codec.yaml":    "codec: grpc\n",
		"store.yaml":    "store:\n  backend: etcd\n",
		"redis.yaml":    "store:\n  backend: redis\n",
		"loader.yaml":   "loader_url: https://example.com/widget.js\n",
		"signals.yaml":  "signals:\n  enabled: true\n",
		"negative.yaml": "reconnect:\n  max_attempts: -1\n",
		"widget.json":   "{}",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, name, content))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("CMR_SIGNALS", "maybe")
	_, err = Load("")
	require.Error(t, err)
}
