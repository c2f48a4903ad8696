package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "idcore"
	maxTxRetries       = 16
	mgetBatch          = 256
)

// Redis is a Store backed by Redis. Each mutation watches the record key and every index key
// it reads, then commits in a MULTI/EXEC block; a concurrent writer aborts the transaction and
// the operation retries against fresh state.
type Redis[T any] struct {
	rdb    redis.UniversalClient
	schema Schema[T]
	prefix string
}

// RedisOption customises the Redis store.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
}

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			o.prefix = prefix
		}
	}
}

// NewRedis constructs a Redis-backed store.
func NewRedis[T any](rdb redis.UniversalClient, schema Schema[T], opts ...RedisOption) (*Redis[T], error) {
	if rdb == nil {
		return nil, errors.New("store: redis client is required")
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}

	cfg := redisOptions{prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Redis[T]{rdb: rdb, schema: schema, prefix: cfg.prefix + ":" + schema.Name}, nil
}

func (s *Redis[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T

	rec = s.schema.clone(rec)
	id := s.schema.ID(rec)
	if id == "" {
		id = uuid.NewString()
		s.schema.SetID(&rec, id)
	}

	payload, err := encodeRecord(rec)
	if err != nil {
		return zero, err
	}

	indexKeys := s.indexKeys(rec)
	watched := append([]string{s.recordKey(id)}, values(indexKeys)...)

	err = s.withRetry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.recordKey(id)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return conflict(s.schema.Name, "id")
		}
		for _, idx := range s.schema.Unique {
			key, ok := indexKeys[idx.Name]
			if !ok {
				continue
			}
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return conflict(s.schema.Name, idx.Name)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.recordKey(id), payload, 0)
			for _, key := range indexKeys {
				pipe.Set(ctx, key, id, 0)
			}
			pipe.SAdd(ctx, s.idsKey(), id)
			return nil
		})
		return err
	}, watched...)
	if err != nil {
		return zero, s.translate("create", err)
	}
	return s.schema.clone(rec), nil
}

func (s *Redis[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		return zero, s.translate("get", err)
	}
	return decodeRecord[T](data)
}

func (s *Redis[T]) GetBy(ctx context.Context, index, value string) (T, error) {
	var zero T
	if _, ok := s.schema.index(index); !ok {
		return zero, errUnknownIndex(s.schema.Name, index)
	}
	if value == "" {
		return zero, ErrNotFound
	}

	id, err := s.rdb.Get(ctx, s.indexKey(index, value)).Result()
	if err != nil {
		return zero, s.translate("get by "+index, err)
	}
	return s.Get(ctx, id)
}

func (s *Redis[T]) GetMany(ctx context.Context, filter Filter) ([]T, error) {
	ids, err := s.rdb.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, s.translate("list", err)
	}

	var out []T
	for start := 0; start < len(ids); start += mgetBatch {
		end := min(start+mgetBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.recordKey(id))
		}

		raw, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, s.translate("list", err)
		}
		for _, item := range raw {
			str, ok := item.(string)
			if !ok {
				continue // deleted between SMEMBERS and MGET
			}
			rec, err := decodeRecord[T]([]byte(str))
			if err != nil {
				return nil, err
			}
			match, err := s.schema.matches(rec, filter)
			if err != nil {
				return nil, err
			}
			if match {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *Redis[T]) Update(ctx context.Context, id string, patch func(*T) error) (T, error) {
	var (
		zero     T
		next     T
		patchErr error
	)

	err := s.withRetry(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.recordKey(id)).Bytes()
		if err != nil {
			return err
		}
		current, err := decodeRecord[T](data)
		if err != nil {
			return err
		}

		next = s.schema.clone(current)
		if patchErr = patch(&next); patchErr != nil {
			return patchErr
		}
		if patchErr = s.schema.checkID(id, next); patchErr != nil {
			return patchErr
		}

		oldKeys := s.indexKeys(current)
		newKeys := s.indexKeys(next)
		if len(newKeys) > 0 {
			if err := tx.Watch(ctx, values(newKeys)...).Err(); err != nil {
				return err
			}
		}
		for name, key := range newKeys {
			if oldKeys[name] == key {
				continue
			}
			owner, err := tx.Get(ctx, key).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			case owner != id:
				return conflict(s.schema.Name, name)
			}
		}

		payload, err := encodeRecord(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for name, key := range oldKeys {
				if newKeys[name] != key {
					pipe.Del(ctx, key)
				}
			}
			for _, key := range newKeys {
				pipe.Set(ctx, key, id, 0)
			}
			pipe.Set(ctx, s.recordKey(id), payload, 0)
			return nil
		})
		return err
	}, s.recordKey(id))

	if err != nil {
		if patchErr != nil && errors.Is(err, patchErr) {
			return zero, patchErr
		}
		return zero, s.translate("update", err)
	}
	return next, nil
}

func (s *Redis[T]) Delete(ctx context.Context, id string) error {
	err := s.withRetry(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, s.recordKey(id)).Bytes()
		if err != nil {
			return err
		}
		current, err := decodeRecord[T](data)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range s.indexKeys(current) {
				pipe.Del(ctx, key)
			}
			pipe.Del(ctx, s.recordKey(id))
			pipe.SRem(ctx, s.idsKey(), id)
			return nil
		})
		return err
	}, s.recordKey(id))
	if err != nil {
		return s.translate("delete", err)
	}
	return nil
}

func (s *Redis[T]) withRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w: %s: transaction retries exhausted", ErrStorage, s.schema.Name)
}

func (s *Redis[T]) translate(op string, err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStorage):
		return err
	default:
		return storageErr(op+" "+s.schema.Name, err)
	}
}

func (s *Redis[T]) recordKey(id string) string { return s.prefix + ":rec:" + id }

func (s *Redis[T]) idsKey() string { return s.prefix + ":ids" }

func (s *Redis[T]) indexKey(index, value string) string {
	return s.prefix + ":idx:" + index + ":" + value
}

func (s *Redis[T]) indexKeys(rec T) map[string]string {
	keys := make(map[string]string, len(s.schema.Unique))
	for _, idx := range s.schema.Unique {
		if value := idx.Key(rec); value != "" {
			keys[idx.Name] = s.indexKey(idx.Name, value)
		}
	}
	return keys
}

func values(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func encodeRecord[T any](rec T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("store: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord[T any](data []byte) (T, error) {
	var rec T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return rec, fmt.Errorf("%w: decode record: %v", ErrStorage, err)
	}
	return rec, nil
}
