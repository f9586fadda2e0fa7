// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// EnvLevel overrides Settings.Level when set.
const EnvLevel = "CMR_LOG_LEVEL"

type Settings struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// File redirects logs away from stderr, which the terminal UI owns.
	File       string `yaml:"file" toml:"file"`
	WithCaller bool   `yaml:"with_caller" toml:"with_caller"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: FormatAuto}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init installs the global logger described by s. The returned closer releases the log file,
// if any.
func Init(s Settings) (io.Closer, error) {
	levelName := s.Level
	if env := strings.TrimSpace(os.Getenv(EnvLevel)); env != "" {
		levelName = env
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", levelName)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	isTerminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if s.File != "" {
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "open log file")
		}
		out = f
		closer = f
		isTerminal = false
	}

	switch s.Format {
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, NoColor: !isTerminal}
	case FormatJSON:
	case "", FormatAuto:
		if isTerminal {
			out = zerolog.ConsoleWriter{Out: out}
		}
	default:
		_ = closer.Close()
		return nil, errors.Errorf("invalid log format %q", s.Format)
	}

	zerolog.SetGlobalLevel(level)
	ctx := zerolog.New(out).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return closer, nil
}
