package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/redis/go-redis/v9"
)

const redisMaxTxRetries = 16

// Redis stores each bucket as a hash of values plus a sorted set of keys (all scores 0)
// so that ZRANGEBYLEX gives ordered cursor scans. Transactions are optimistic: every
// write bumps a version key that each transaction WATCHes.
type Redis struct {
	client *redis.Client
	prefix string
}

type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key written by the store
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis connects to the server at url (redis://host:port/db)
func NewRedis(ctx context.Context, url string, opts ...RedisOption) (*Redis, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis url")
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", redisOpts.Addr))
	}

	r := &Redis{
		client: client,
		prefix: "mnemo",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) valuesKey(bucket string) string { return r.prefix + ":" + bucket + ":values" }
func (r *Redis) keysKey(bucket string) string   { return r.prefix + ":" + bucket + ":keys" }
func (r *Redis) versionKey() string             { return r.prefix + ":version" }

// hashReader is satisfied by both *redis.Client and *redis.Tx
type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (r *Redis) read(ctx context.Context, c hashReader, bucket, key string) ([]byte, error) {
	v, err := c.HGet(ctx, r.valuesKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get value", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return v, nil
}

func (r *Redis) apply(ctx context.Context, pipe redis.Pipeliner, w *write) {
	if w.delete {
		pipe.HDel(ctx, r.valuesKey(w.bucket), w.key)
		pipe.ZRem(ctx, r.keysKey(w.bucket), w.key)
	} else {
		pipe.HSet(ctx, r.valuesKey(w.bucket), w.key, w.value)
		pipe.ZAdd(ctx, r.keysKey(w.bucket), redis.Z{Score: 0, Member: w.key})
	}
}

func (r *Redis) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validateName(bucket, key); err != nil {
		return nil, err
	}
	return r.read(ctx, r.client, bucket, key)
}

func (r *Redis) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validateName(bucket, key); err != nil {
		return err
	}
	return r.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		tx.Put(bucket, key, value)
		return nil
	})
}

func (r *Redis) Delete(ctx context.Context, bucket, key string) error {
	if err := validateName(bucket, key); err != nil {
		return err
	}
	return r.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		tx.Delete(bucket, key)
		return nil
	})
}

func (r *Redis) GetAll(ctx context.Context, bucket string) ([]*interfaces.Entry, error) {
	values, err := r.client.HGetAll(ctx, r.valuesKey(bucket)).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get all values", goerr.V("bucket", bucket))
	}

	entries := make([]*interfaces.Entry, 0, len(values))
	for k, v := range values {
		entries = append(entries, &interfaces.Entry{Key: k, Value: []byte(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (r *Redis) Scan(ctx context.Context, bucket string, opt interfaces.ScanOptions, fn func(*interfaces.Entry) bool) error {
	const pageSize = 128

	var offset int64
	var visited int
	for {
		count := int64(pageSize)
		if opt.Limit > 0 && int64(opt.Limit-visited) < count {
			count = int64(opt.Limit - visited)
		}
		if count <= 0 {
			return nil
		}

		rng := &redis.ZRangeBy{Min: "-", Max: "+", Offset: offset, Count: count}
		var keys []string
		var err error
		if opt.Reverse {
			keys, err = r.client.ZRevRangeByLex(ctx, r.keysKey(bucket), rng).Result()
		} else {
			keys, err = r.client.ZRangeByLex(ctx, r.keysKey(bucket), rng).Result()
		}
		if err != nil {
			return goerr.Wrap(err, "failed to scan keys", goerr.V("bucket", bucket))
		}
		if len(keys) == 0 {
			return nil
		}

		values, err := r.client.HMGet(ctx, r.valuesKey(bucket), keys...).Result()
		if err != nil {
			return goerr.Wrap(err, "failed to get scanned values", goerr.V("bucket", bucket))
		}

		for i, key := range keys {
			s, ok := values[i].(string)
			if !ok {
				// removed between ZRANGE and HMGET
				continue
			}
			visited++
			if !fn(&interfaces.Entry{Key: key, Value: []byte(s)}) {
				return nil
			}
		}

		if int64(len(keys)) < count {
			return nil
		}
		offset += int64(len(keys))
	}
}

func (r *Redis) Update(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := r.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := newBufferedTx(func(ctx context.Context, bucket, key string) ([]byte, error) {
				return r.read(ctx, rtx, bucket, key)
			})
			if err := fn(ctx, tx); err != nil {
				return err
			}

			pending := tx.pending()
			for _, w := range pending {
				if err := validateName(w.bucket, w.key); err != nil {
					return err
				}
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range pending {
					r.apply(ctx, pipe, w)
				}
				pipe.Incr(ctx, r.versionKey())
				return nil
			})
			return err
		}, r.versionKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return goerr.New("redis transaction retries exhausted", goerr.V("retries", redisMaxTxRetries))
}

func (r *Redis) Clear(ctx context.Context, buckets ...string) error {
	keys := make([]string, 0, len(buckets)*2)
	for _, b := range buckets {
		keys = append(keys, r.valuesKey(b), r.keysKey(b))
	}
	if len(keys) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.Incr(ctx, r.versionKey())
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to clear buckets", goerr.V("buckets", buckets))
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
