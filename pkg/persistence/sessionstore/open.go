package sessionstore

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

var ErrUnknownBackend = errors.New("sessionstore: unknown backend")

// Options selects and configures a Store backend.
type Options struct {
	Backend string
	// Path is the YAML file for the file backend, or the database file for sqlite when DSN is
	// empty.
	Path           string
	DSN            string
	RedisAddr      string
	RedisNamespace string
}

// Open builds the Store described by opts.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.Path)
	case BackendSQLite:
		dsn := opts.DSN
		if dsn == "" {
			var err error
			dsn, err = SQLiteDSNForFile(opts.Path)
			if err != nil {
				return nil, err
			}
		}
		return NewSQLiteStore(dsn)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisNamespace)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", opts.Backend)
	}
}

// DefaultPath returns the store location under dir for the given backend.
func DefaultPath(dir string, backend string) string {
	switch backend {
	case BackendSQLite:
		return filepath.Join(dir, "sessions.db")
	default:
		return filepath.Join(dir, "sessions.yaml")
	}
}
