package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	Addr, Password, Namespace string
	DB                        int
	Timeout                   time.Duration
}

// RedisStore keeps a collection's schema in a string key and its records in
// a hash:
//
//	<ns>:<collection>:schema
//	<ns>:<collection>:records   id -> payload
type RedisStore struct {
	rdb   *redis.Client
	ns    string
	guard SchemaGuard
}

func NewRedisStore(o RedisOpts) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return &RedisStore{rdb: rdb, ns: firstNonEmpty(o.Namespace, "resilientroute")}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) schemaKey(name string) string  { return fmt.Sprintf("%s:%s:schema", s.ns, name) }
func (s *RedisStore) recordsKey(name string) string { return fmt.Sprintf("%s:%s:records", s.ns, name) }

func (s *RedisStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.schemaKey(name)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) CreateCollection(ctx context.Context, name string, schema []byte) error {
	if _, err := s.guard.Compile(schema); err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.schemaKey(name), schema, 0).Err()
}

func (s *RedisStore) DeleteCollection(ctx context.Context, name string) error {
	return s.rdb.Del(ctx, s.schemaKey(name), s.recordsKey(name)).Err()
}

func (s *RedisStore) Upsert(ctx context.Context, name string, records []Record) error {
	schema, err := s.rdb.Get(ctx, s.schemaKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return err
	}
	if err := s.guard.Check(schema, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	values := make([]any, 0, 2*len(records))
	for _, r := range records {
		values = append(values, r.ID, []byte(r.Payload))
	}
	return s.rdb.HSet(ctx, s.recordsKey(name), values...).Err()
}

func (s *RedisStore) Scroll(ctx context.Context, name string, limit int) ([]Record, error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	out := []Record{}
	var cursor uint64
	for len(out) < limit {
		kvs, next, err := s.rdb.HScan(ctx, s.recordsKey(name), cursor, "", int64(limit)).Result()
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(kvs) && len(out) < limit; i += 2 {
			out = append(out, Record{ID: kvs[i], Payload: []byte(kvs[i+1])})
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func firstNonEmpty(s, def string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return def
}
