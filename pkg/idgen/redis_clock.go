package idgen

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock reads time from the Redis TIME command so that several upload
// servers sharing a Redis agree on one clock.
type RedisClock struct {
	client  redis.Cmdable
	timeout time.Duration
}

func NewRedisClock(client redis.Cmdable) *RedisClock {
	return &RedisClock{
		client:  client,
		timeout: 500 * time.Millisecond,
	}
}

// Now falls back to the local clock when Redis cannot answer.
func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	if err != nil {
		logger.Warnw("Redis TIME failed, using local clock", "error", err.Error())
		return time.Now().UnixMilli()
	}
	return res.UnixMilli()
}
