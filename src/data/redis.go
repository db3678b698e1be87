package data

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const streamEvents = "nombot.events"

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// PublishEvent appends a lifecycle event to the shared stream for
// external consumers. Best effort; callers log and move on.
func PublishEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		Values: payload,
	}).Result()
	return err
}
