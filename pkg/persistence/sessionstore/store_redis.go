package sessionstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as plain redis strings under an optional key namespace, so several
// widget installations can share one redis.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	owned     bool
}

var _ Store = &RedisStore{}

// NewRedisStore dials addr. The returned store owns the client and closes it.
func NewRedisStore(addr string, namespace string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis session store: empty addr")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: client, namespace: namespace, owned: true}, nil
}

// NewRedisStoreWithClient wraps an existing client; Close leaves it open.
func NewRedisStoreWithClient(client redis.UniversalClient, namespace string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis session store: nil client")
	}
	return &RedisStore{client: client, namespace: namespace}, nil
}

func (s *RedisStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey("redis session store", key); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis session store: get")
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := checkKey("redis session store", key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return errors.Wrap(err, "redis session store: set")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := checkKey("redis session store", key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "redis session store: delete")
	}
	return nil
}
