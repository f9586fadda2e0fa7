package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestInit_JSONToFile(t *testing.T) {
	restoreLogger(t)
	t.Setenv(EnvLevel, "")
	path := filepath.Join(t.TempDir(), "widget.log")

	closer, err := Init(Settings{Level: "debug", Format: FormatJSON, File: path})
	require.NoError(t, err)
	log.Debug().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"component":"test"`)
	require.Contains(t, string(data), `"message":"hello"`)
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInit_EnvOverridesLevel(t *testing.T) {
	restoreLogger(t)
	t.Setenv(EnvLevel, "warn")
	closer, err := Init(Settings{Level: "debug", Format: FormatJSON, File: filepath.Join(t.TempDir(), "l.log")})
	require.NoError(t, err)
	defer func() { _ = closer.Close() }()
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInit_RejectsBadSettings(t *testing.T) {
	restoreLogger(t)
	t.Setenv(EnvLevel, "")
	_, err := Init(Settings{Level: "loud"})
	require.Error(t, err)
	_, err = Init(Settings{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestWatermillLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wm.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var l watermill.LoggerAdapter = NewWatermill(zerolog.New(f).Level(zerolog.InfoLevel))
	l = l.With(watermill.LogFields{"topic": "signals"})
	l.Info("published", watermill.LogFields{"uuid": "x"})
	l.Debug("hidden", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"topic":"signals"`)
	require.Contains(t, string(data), `"uuid":"x"`)
	require.NotContains(t, string(data), "hidden")
}
