package session

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore persists the session as two Redis keys under a prefix.
// Writes go through MULTI/EXEC and reads through a single MGET, so both
// tokens are always observed together.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore. prefix namespaces the keys, e.g.
// "referhub:session:<profile>".
func NewRedisStore(rdb redis.UniversalClient, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) Get(ctx context.Context, key string) string {
	val, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("redis token read failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return val
}

func (s *RedisStore) Load(ctx context.Context) Tokens {
	vals, err := s.rdb.MGet(ctx, s.key(KeyAccessToken), s.key(KeyRefreshToken)).Result()
	if err != nil {
		s.logger.Warn("redis token read failed", zap.Error(err))
		return Tokens{}
	}

	var t Tokens
	if v, ok := vals[0].(string); ok {
		t.AccessToken = v
	}
	if v, ok := vals[1].(string); ok {
		t.RefreshToken = v
	}
	return t
}

func (s *RedisStore) Set(ctx context.Context, tokens Tokens) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyAccessToken), tokens.AccessToken, 0)
		pipe.Set(ctx, s.key(KeyRefreshToken), tokens.RefreshToken, 0)
		return nil
	})
	if err != nil {
		return &StoreError{Operation: "save", Backend: "redis", Cause: err}
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) {
	if err := s.rdb.Del(ctx, s.key(KeyAccessToken), s.key(KeyRefreshToken)).Err(); err != nil {
		s.logger.Warn("redis token clear failed", zap.Error(err))
	}
}
