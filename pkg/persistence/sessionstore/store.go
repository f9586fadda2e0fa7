// Package sessionstore persists the per-project resumption state of the chat widget: the
// server assigned chat id and the customer's display name.
package sessionstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const (
	sessionKeyPrefix = "cmr_chat_"
	nameKeyPrefix    = "cmr_name_"
)

var ErrEmptyKey = errors.New("sessionstore: empty key")

// Store is a durable string key/value store. Get reports ok=false for a missing key;
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SessionKey is the key holding the chat id for projectID.
func SessionKey(projectID string) string { return sessionKeyPrefix + projectID }

// NameKey is the key holding the customer display name for projectID.
func NameKey(projectID string) string { return nameKeyPrefix + projectID }

// Identity is the persisted resumption state of one project.
type Identity struct {
	ProjectID string
	SessionID string
	Name      string
}

// LoadIdentity reads both entries for projectID. Missing entries come back empty.
func LoadIdentity(ctx context.Context, s Store, projectID string) (Identity, error) {
	id := Identity{ProjectID: projectID}
	if s == nil {
		return id, nil
	}
	sessionID, _, err := s.Get(ctx, SessionKey(projectID))
	if err != nil {
		return id, errors.Wrap(err, "load session id")
	}
	name, _, err := s.Get(ctx, NameKey(projectID))
	if err != nil {
		return id, errors.Wrap(err, "load name")
	}
	id.SessionID = strings.TrimSpace(sessionID)
	id.Name = name
	return id, nil
}

// PurgeIdentity deletes both entries for projectID, attempting each even if one fails.
func PurgeIdentity(ctx context.Context, s Store, projectID string) error {
	if s == nil {
		return nil
	}
	errSession := s.Delete(ctx, SessionKey(projectID))
	errName := s.Delete(ctx, NameKey(projectID))
	if errSession != nil {
		return errors.Wrap(errSession, "purge session id")
	}
	if errName != nil {
		return errors.Wrap(errName, "purge name")
	}
	return nil
}

func checkKey(prefix, key string) error {
	if key == "" {
		return errors.Wrap(ErrEmptyKey, prefix)
	}
	return nil
}
