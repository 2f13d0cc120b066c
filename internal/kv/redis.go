package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisValueField   = "v"
	redisVersionField = "ver"
)

var errMissingRedisClient = errors.New("kv: redis client is required")

// RedisStoreConfig describes the dependencies of a RedisStore.
type RedisStoreConfig struct {
	Client    *redis.Client
	Namespace string
	Logger    *zap.Logger
}

// RedisStore implements Store on Redis. Each entry is a hash holding the value
// and its version; a sorted set with uniform scores keeps keys in lexicographic
// order for prefix scans.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    *zap.Logger
}

// NewRedisStore constructs a store using the provided client.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "kv"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: cfg.Client, namespace: namespace, logger: logger}, nil
}

func (s *RedisStore) entryKey(key string) string {
	return s.namespace + ":e:" + key
}

func (s *RedisStore) indexKey() string {
	return s.namespace + ":keys"
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}
	fields, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return entryFromHash(key, fields)
}

func (s *RedisStore) List(ctx context.Context, options ListOptions) (ListPage, error) {
	after, err := decodeCursor(options.Cursor, options.Prefix)
	if err != nil {
		return ListPage{}, err
	}

	bounds := &redis.ZRangeBy{Min: "-", Max: "+"}
	switch {
	case after != "":
		bounds.Min = "(" + after
	case options.Prefix != "":
		bounds.Min = "[" + options.Prefix
	}
	if upper := prefixUpperBound(options.Prefix); upper != "" {
		bounds.Max = "(" + upper
	}
	if options.Limit > 0 {
		bounds.Count = int64(options.Limit + 1)
	}

	keys, err := s.client.ZRangeByLex(ctx, s.indexKey(), bounds).Result()
	if err != nil {
		return ListPage{}, fmt.Errorf("kv: list %q: %w", options.Prefix, err)
	}

	page := ListPage{Entries: make([]Entry, 0, len(keys))}
	if options.Limit > 0 && len(keys) > options.Limit {
		keys = keys[:options.Limit]
		page.Cursor = encodeCursor(keys[len(keys)-1])
	}
	if len(keys) == 0 {
		return page, nil
	}

	pipe := s.client.Pipeline()
	results := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		results[i] = pipe.HGetAll(ctx, s.entryKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return ListPage{}, fmt.Errorf("kv: list %q: %w", options.Prefix, err)
	}
	for i, key := range keys {
		entry, err := entryFromHash(key, results[i].Val())
		if errors.Is(err, ErrNotFound) {
			// removed between the index scan and the read
			continue
		}
		if err != nil {
			return ListPage{}, err
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (s *RedisStore) Commit(ctx context.Context, batch Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}

	watched := make([]string, 0, len(batch.Checks)+len(batch.Sets)+len(batch.Deletes))
	for _, check := range batch.Checks {
		watched = append(watched, s.entryKey(check.Key))
	}
	for _, mutation := range batch.Sets {
		watched = append(watched, s.entryKey(mutation.Key))
	}
	for _, key := range batch.Deletes {
		watched = append(watched, s.entryKey(key))
	}

	transaction := func(tx *redis.Tx) error {
		for _, check := range batch.Checks {
			version, err := tx.HGet(ctx, s.entryKey(check.Key), redisVersionField).Int64()
			if errors.Is(err, redis.Nil) {
				version = 0
			} else if err != nil {
				return fmt.Errorf("kv: read version %q: %w", check.Key, err)
			}
			if version != check.Version {
				s.logger.Debug("kv commit check failed",
					zap.String("key", check.Key),
					zap.Int64("expected_version", check.Version),
					zap.Int64("current_version", version))
				return ErrConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, mutation := range batch.Sets {
				entryKey := s.entryKey(mutation.Key)
				pipe.HSet(ctx, entryKey, redisValueField, mutation.Value)
				pipe.HIncrBy(ctx, entryKey, redisVersionField, 1)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: mutation.Key})
			}
			for _, key := range batch.Deletes {
				pipe.Del(ctx, s.entryKey(key))
				pipe.ZRem(ctx, s.indexKey(), key)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, transaction, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func entryFromHash(key string, fields map[string]string) (Entry, error) {
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}
	value, ok := fields[redisValueField]
	if !ok {
		return Entry{}, ErrNotFound
	}
	version, err := strconv.ParseInt(fields[redisVersionField], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("kv: corrupt version for %q: %w", key, err)
	}
	return Entry{Key: key, Value: []byte(value), Version: version}, nil
}
