package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the durable Queue backing production deployments: a
// Redis sorted set scored so higher priority pops first and equal
// priority pops FIFO, surviving a dispatcher restart.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue returns a Queue backed by client, storing items as
// JSON-encoded members of the sorted set at key. Remove scans the set's
// members for the matching submission ID.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

type redisItem struct {
	SubmissionID string    `json:"submission_id"`
	Priority     int       `json:"priority"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// score packs priority and enqueue order into a single float64 so ZADD
// orders by priority descending, then by time ascending: higher
// priority always sorts before lower priority regardless of age, and
// within a priority, earlier submissions sort first.
func score(priority int, enqueuedAt time.Time) float64 {
	const priorityWidth = 1e19 // generous headroom past any realistic unix-nano range
	return float64(-priority)*priorityWidth + float64(enqueuedAt.UnixNano())
}

func (q *RedisQueue) Push(ctx context.Context, item Item) error {
	payload, err := json.Marshal(redisItem{SubmissionID: item.SubmissionID, Priority: item.Priority, EnqueuedAt: item.EnqueuedAt})
	if err != nil {
		return fmt.Errorf("dispatcher: encoding queue item: %w", err)
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  score(item.Priority, item.EnqueuedAt),
		Member: payload,
	}).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Item, error) {
	result, err := q.client.BZPopMin(ctx, 0, q.key).Result()
	if err != nil {
		return Item{}, err
	}
	member, ok := result.Member.(string)
	if !ok {
		return Item{}, fmt.Errorf("dispatcher: unexpected queue member type %T", result.Member)
	}
	var ri redisItem
	if err := json.Unmarshal([]byte(member), &ri); err != nil {
		return Item{}, fmt.Errorf("dispatcher: decoding queue item: %w", err)
	}
	return Item{SubmissionID: ri.SubmissionID, Priority: ri.Priority, EnqueuedAt: ri.EnqueuedAt}, nil
}

func (q *RedisQueue) Remove(ctx context.Context, submissionID string) error {
	members, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		var ri redisItem
		if err := json.Unmarshal([]byte(m), &ri); err != nil {
			continue
		}
		if ri.SubmissionID == submissionID {
			return q.client.ZRem(ctx, q.key, m).Err()
		}
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
