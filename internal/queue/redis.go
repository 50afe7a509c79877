package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// popWait bounds each BRPOP so a cancelled ctx is noticed promptly.
const popWait = time.Second

// RedisQueue keeps one list per channel: LPUSH on push, BRPOP on pop.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(ctx context.Context, addr, prefix string) (*RedisQueue, error) {
	rClient := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	retryTicker := time.NewTicker(time.Second * 2)
	defer retryTicker.Stop()

	// retry ping
	var pingErr error
	for range 5 {
		if pingErr = rClient.Ping(ctx).Err(); pingErr == nil {
			break
		}
		<-retryTicker.C
	}
	if pingErr != nil {
		return nil, fmt.Errorf("failed to ping redis instance: %w", pingErr)
	}

	return &RedisQueue{client: rClient, prefix: prefix}, nil
}

func (q *RedisQueue) Push(ctx context.Context, ch model.Channel, campaignID string) error {
	body, err := encodeJob(campaignID)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, Name(q.prefix, ch), body).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, ch model.Channel) (string, error) {
	key := Name(q.prefix, ch)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := q.client.BRPop(ctx, popWait, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", err
		}
		// res is [key, value]
		return decodeJob([]byte(res[1]))
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
