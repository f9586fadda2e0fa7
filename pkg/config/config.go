// Package config loads widget settings from a YAML or TOML file and CMR_* environment
// variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/cmr-widget/pkg/loader"
	"github.com/go-go-golems/cmr-widget/pkg/logging"
	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
	"github.com/go-go-golems/cmr-widget/pkg/session"
	"github.com/go-go-golems/cmr-widget/pkg/signals"
	"github.com/go-go-golems/cmr-widget/pkg/transport"
)

const EnvPrefix = "CMR_"

type StoreSettings struct {
	Backend        string
	Path           string
	DSN            string
	RedisAddr      string
	RedisNamespace string
}

type ReconnectSettings struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// Settings is the resolved widget configuration.
type Settings struct {
	LoaderURL     string
	Codec         string
	CreateTimeout time.Duration
	Store         StoreSettings
	Reconnect     ReconnectSettings
	Signals       signals.Settings
	Log           logging.Settings
}

func Default() Settings {
	b := transport.DefaultBackoffConfig()
	return Settings{
		Codec:         transport.SocketIOCodecName,
		CreateTimeout: session.DefaultCreateTimeout,
		Store: StoreSettings{
			Backend: sessionstore.BackendFile,
			Path:    sessionstore.DefaultPath(DefaultDir(), sessionstore.BackendFile),
		},
		Reconnect: ReconnectSettings{
			InitialDelay: b.InitialDelay,
			MaxDelay:     b.MaxDelay,
			Multiplier:   b.Multiplier,
		},
		Signals: signals.Settings{Topic: signals.DefaultTopic},
		Log:     logging.DefaultSettings(),
	}
}

// DefaultDir is where the widget keeps its state when no path is configured.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "cmr-widget")
	}
	return ".cmr-widget"
}

// fileConfig mirrors the on-disk layout; durations are strings such as "15s".
type fileConfig struct {
	LoaderURL     string `yaml:"loader_url" toml:"loader_url"`
	Codec         string `yaml:"codec" toml:"codec"`
	CreateTimeout string `yaml:"create_timeout" toml:"create_timeout"`
	Store         struct {
		Backend        string `yaml:"backend" toml:"backend"`
		Path           string `yaml:"path" toml:"path"`
		DSN            string `yaml:"dsn" toml:"dsn"`
		RedisAddr      string `yaml:"redis_addr" toml:"redis_addr"`
		RedisNamespace string `yaml:"redis_namespace" toml:"redis_namespace"`
	} `yaml:"store" toml:"store"`
	Reconnect struct {
		InitialDelay string  `yaml:"initial_delay" toml:"initial_delay"`
		MaxDelay     string  `yaml:"max_delay" toml:"max_delay"`
		Multiplier   float64 `yaml:"multiplier" toml:"multiplier"`
		MaxAttempts  int     `yaml:"max_attempts" toml:"max_attempts"`
	} `yaml:"reconnect" toml:"reconnect"`
	Signals *signals.Settings `yaml:"signals" toml:"signals"`
	Log     *logging.Settings `yaml:"log" toml:"log"`
}

// Load returns defaults overlaid with the file at path (if non-empty) and then with the
// environment. The result is validated.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		if err := applyFile(&s, path); err != nil {
			return Settings{}, err
		}
	}
	if err := ApplyEnv(&s, os.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func applyFile(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config load failed (%s)", path)
	}
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return errors.Wrapf(err, "config parse failed (%s)", path)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return errors.Wrapf(err, "config parse failed (%s)", path)
		}
	default:
		return errors.Errorf("config load failed (%s): unsupported extension", path)
	}

	setString(&s.LoaderURL, raw.LoaderURL)
	setString(&s.Codec, raw.Codec)
	if err := setDuration(&s.CreateTimeout, raw.CreateTimeout, "create_timeout"); err != nil {
		return err
	}
	setString(&s.Store.Backend, raw.Store.Backend)
	setString(&s.Store.Path, raw.Store.Path)
	setString(&s.Store.DSN, raw.Store.DSN)
	setString(&s.Store.RedisAddr, raw.Store.RedisAddr)
	setString(&s.Store.RedisNamespace, raw.Store.RedisNamespace)
	if raw.Store.Backend != "" && raw.Store.Path == "" {
		s.Store.Path = sessionstore.DefaultPath(DefaultDir(), s.Store.Backend)
	}
	if err := setDuration(&s.Reconnect.InitialDelay, raw.Reconnect.InitialDelay, "reconnect.initial_delay"); err != nil {
		return err
	}
	if err := setDuration(&s.Reconnect.MaxDelay, raw.Reconnect.MaxDelay, "reconnect.max_delay"); err != nil {
		return err
	}
	if raw.Reconnect.Multiplier != 0 {
		s.Reconnect.Multiplier = raw.Reconnect.Multiplier
	}
	if raw.Reconnect.MaxAttempts != 0 {
		s.Reconnect.MaxAttempts = raw.Reconnect.MaxAttempts
	}
	if raw.Signals != nil {
		s.Signals = *raw.Signals
		if s.Signals.Topic == "" {
			s.Signals.Topic = signals.DefaultTopic
		}
	}
	if raw.Log != nil {
		s.Log = *raw.Log
	}
	return nil
}

// ApplyEnv overlays CMR_* variables read through lookup.
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("LOADER_URL"); ok {
		s.LoaderURL = v
	}
	if v, ok := get("CODEC"); ok {
		s.Codec = v
	}
	if v, ok := get("CREATE_TIMEOUT"); ok {
		if err := setDuration(&s.CreateTimeout, v, EnvPrefix+"CREATE_TIMEOUT"); err != nil {
			return err
		}
	}
	if v, ok := get("STORE"); ok {
		s.Store.Backend = v
		if _, hasPath := get("STORE_PATH"); !hasPath {
			s.Store.Path = sessionstore.DefaultPath(DefaultDir(), v)
		}
	}
	if v, ok := get("STORE_PATH"); ok {
		s.Store.Path = v
	}
	if v, ok := get("STORE_DSN"); ok {
		s.Store.DSN = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		s.Store.RedisAddr = v
		s.Signals.Addr = v
	}
	if v, ok := get("SIGNALS"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "parse %sSIGNALS", EnvPrefix)
		}
		s.Signals.Enabled = enabled
	}
	if v, ok := get("MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %sMAX_ATTEMPTS", EnvPrefix)
		}
		s.Reconnect.MaxAttempts = n
	}
	if v, ok := get("LOG_FILE"); ok {
		s.Log.File = v
	}
	return nil
}

// Validate checks that the settings can build a widget. The loader URL is optional here
// because commands may supply it as a flag.
func (s Settings) Validate() error {
	if s.LoaderURL != "" {
		if _, err := loader.Parse(s.LoaderURL); err != nil {
			return errors.Wrap(err, "loader_url")
		}
	}
	if _, ok := transport.CodecByName(s.Codec); !ok {
		return errors.Errorf("codec: unknown codec %q", s.Codec)
	}
	if s.CreateTimeout <= 0 {
		return errors.New("create_timeout must be positive")
	}
	switch s.Store.Backend {
	case sessionstore.BackendMemory:
	case sessionstore.BackendFile:
		if strings.TrimSpace(s.Store.Path) == "" {
			return errors.New("store.path is required for the file backend")
		}
	case sessionstore.BackendSQLite:
		if strings.TrimSpace(s.Store.Path) == "" && strings.TrimSpace(s.Store.DSN) == "" {
			return errors.New("store.path or store.dsn is required for the sqlite backend")
		}
	case sessionstore.BackendRedis:
		if strings.TrimSpace(s.Store.RedisAddr) == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
	default:
		return errors.Wrapf(sessionstore.ErrUnknownBackend, "store.backend %q", s.Store.Backend)
	}
	if s.Reconnect.InitialDelay < 0 || s.Reconnect.MaxDelay < 0 {
		return errors.New("reconnect delays must not be negative")
	}
	if s.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if s.Signals.Enabled && strings.TrimSpace(s.Signals.Addr) == "" {
		return errors.New("signals.addr is required when signals are enabled")
	}
	return nil
}

// StoreOptions converts the store section for sessionstore.Open.
func (s Settings) StoreOptions() sessionstore.Options {
	return sessionstore.Options{
		Backend:        s.Store.Backend,
		Path:           s.Store.Path,
		DSN:            s.Store.DSN,
		RedisAddr:      s.Store.RedisAddr,
		RedisNamespace: s.Store.RedisNamespace,
	}
}

// TransportOptions converts codec and reconnect settings for transport.New.
func (s Settings) TransportOptions() ([]transport.Option, error) {
	codec, ok := transport.CodecByName(s.Codec)
	if !ok {
		return nil, errors.Errorf("unknown codec %q", s.Codec)
	}
	return []transport.Option{
		transport.WithCodec(codec),
		transport.WithBackoff(transport.BackoffConfig{
			InitialDelay: s.Reconnect.InitialDelay,
			MaxDelay:     s.Reconnect.MaxDelay,
			Multiplier:   s.Reconnect.Multiplier,
			Jitter:       true,
		}),
		transport.WithMaxAttempts(s.Reconnect.MaxAttempts),
	}, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string, name string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", name)
	}
	*dst = d
	return nil
}
