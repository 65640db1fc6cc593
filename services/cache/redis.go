package cachesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

const (
	keyPrefix         = "eduro:"
	maxUpdateAttempts = 10
)

type redisCache struct {
	client *redis.Client
}

var _ core.Cache = (*redisCache)(nil) // interface compliance check

// NewRedisClient connects to the configured redis server.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Cache.RedisAddr,
		Password: conf.Cache.RedisPassword,
		DB:       conf.Cache.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func NewRedisCache(client *redis.Client) core.Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "getting cached value")
	}
	if err = json.Unmarshal(data, dst); err != nil {
		return false, errors.Wrap(err, "decoding cached value")
	}
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding value")
	}
	return errors.Wrap(c.client.Set(ctx, keyPrefix+key, data, ttl).Err(), "setting cached value")
}

// Update runs GET then SET XX KEEPTTL in a transaction that WATCHes key, retrying when the key changed in between.
func (c *redisCache) Update(ctx context.Context, key string, dst interface{}, modify func() (interface{}, bool)) (bool, error) {
	key = keyPrefix + key
	var updated bool
	txf := func(tx *redis.Tx) error {
		updated = false
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "getting cached value")
		}
		if err = json.Unmarshal(data, dst); err != nil {
			return errors.Wrap(err, "decoding cached value")
		}
		val, changed := modify()
		if !changed {
			return nil
		}
		if data, err = json.Marshal(val); err != nil {
			return errors.Wrap(err, "encoding value")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		switch err {
		case nil:
			updated = true
			return nil
		case redis.Nil: // expired in between
			return nil
		default:
			return err
		}
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return updated, errors.Wrap(err, "updating cached value")
		}
	}
	return false, errors.Errorf("updating cached value: %s kept changing", key)
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return errors.Wrap(c.client.Del(ctx, keyPrefix+key).Err(), "deleting cached value")
}
