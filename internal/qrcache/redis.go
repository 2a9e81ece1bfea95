package qrcache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis stores entries as qr:<id> with a native expiry and publishes every
// change on the channel of the same name.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// NewRedisFromURL accepts redis://[user:pass@]host:port/db URLs.
func NewRedisFromURL(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return NewRedis(redis.NewClient(opt)), nil
}

func (r *Redis) Set(ctx context.Context, instanceID, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key(instanceID)
	if err := r.rdb.Set(ctx, k, payload, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", k)
	}
	if err := r.rdb.Publish(ctx, k, payload).Err(); err != nil {
		zap.L().Warn("qr publish failed", zap.String("key", k), zap.Error(err))
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, instanceID string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key(instanceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key(instanceID))
	}
	return v, true, nil
}

func (r *Redis) Delete(ctx context.Context, instanceID string) error {
	k := key(instanceID)
	n, err := r.rdb.Del(ctx, k).Result()
	if err != nil {
		return errors.Wrapf(err, "del %s", k)
	}
	if n > 0 {
		_ = r.rdb.Publish(ctx, k, "").Err()
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (r *Redis) Subscribe(instanceID string, fn func(payload string)) func() {
	ctx := context.Background()
	ps := r.rdb.Subscribe(ctx, key(instanceID))
	if _, err := ps.Receive(ctx); err != nil {
		zap.L().Warn("qr subscribe failed", zap.String("instance", instanceID), zap.Error(err))
		_ = ps.Close()
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn(msg.Payload)
		}
	}()
	return func() {
		_ = ps.Close()
		<-done
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
