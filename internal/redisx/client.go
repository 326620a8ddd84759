package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("redisx: key not found")

// KV is the subset of Redis the services rely on.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	HIncrBy(ctx context.Context, key string, fields map[string]int64) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
}

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Redis adapts a go-redis client to KV.
type Redis struct{ C *redis.Client }

func (r Redis) Get(ctx context.Context, key string) (string, error) {
	s, err := r.C.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return s, err
}

func (r Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.C.Set(ctx, key, value, ttl).Err()
}

func (r Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.C.SetNX(ctx, key, value, ttl).Result()
}

func (r Redis) Del(ctx context.Context, keys ...string) error {
	return r.C.Del(ctx, keys...).Err()
}

func (r Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.C.Incr(ctx, key).Result()
}

// HIncrBy applies every field increment in one MULTI/EXEC.
func (r Redis) HIncrBy(ctx context.Context, key string, fields map[string]int64) error {
	_, err := r.C.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for f, n := range fields {
			p.HIncrBy(ctx, key, f, n)
		}
		return nil
	})
	return err
}

func (r Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.C.HGetAll(ctx, key).Result()
}

func (r Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.C.Exists(ctx, key).Result()
	return n > 0, err
}

var _ KV = Redis{}
