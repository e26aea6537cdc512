package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
	ctx    = context.Background()
)

// GetRedisDB returns nil when redis was never connected; callers treat that as "no cache".
func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// SetRedisDB swaps the client. nil disables cache, locks and rate limiting.
func SetRedisDB(client *redis.Client) {
	rdb = client
	if client == nil {
		locker = nil
		return
	}
	locker = redislock.New(client)
}

// GetRedisObject decodes the JSON stored at key into dest. A miss is (false, nil).
func GetRedisObject(key string, dest interface{}) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err = json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(key string, obj interface{}, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, exp).Err()
}

func RemoveRedisKey(keys ...string) error {
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// GetRedisInt reads an integer counter. A missing key, or no redis, reads as 0.
func GetRedisInt(c context.Context, key string) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	n, err := rdb.Get(c, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func IncrRedisKey(c context.Context, key string) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	return rdb.Incr(c, key).Result()
}

// IncrWithExpiry increments key and sets its ttl on first use. Used by the rate limiter.
func IncrWithExpiry(c context.Context, key string, exp time.Duration) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	pipe := rdb.TxPipeline()
	incr := pipe.Incr(c, key)
	pipe.ExpireNX(c, key, exp)
	if _, err := pipe.Exec(c); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ConnectRedisWithRetry blocks until redis answers PING, then sets the global client
// and lock client. server.go only calls it when REDIS_ADDRESS is set.
func ConnectRedisWithRetry() {
	addr := envOrDefault("REDIS_ADDRESS", "localhost:6379")
	logger := GetLogger().WithFields(logrus.Fields{"field": "redis", "addr": addr})

	for attempt := 1; ; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intFromEnv("REDIS_DB", 0),
			PoolSize: intFromEnv("REDIS_POOL_SIZE", 50),
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			SetRedisDB(client)
			logger.WithField("attempt", attempt).Info("connected to redis")
			return
		}
		_ = client.Close()

		sleep := backoff(attempt)
		logger.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).
			Warn("redis connect failed: " + err.Error())
		time.Sleep(sleep)
	}
}
