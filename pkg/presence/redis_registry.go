package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "bioviews:presence"

// RedisRegistry stores entries in one sorted set per topic, member
// "subscriptionID|key" scored by expiry in epoch milliseconds, so every instance
// sees the same presence state.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry creates a registry. An empty prefix selects "bioviews:presence".
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) topicKey(topic string) string {
	return r.prefix + ":topic:" + topic
}

func (r *RedisRegistry) topicsKey() string {
	return r.prefix + ":topics"
}

func member(e Entry) string {
	return e.SubscriptionID + "|" + e.Key
}

func keyOf(member string) string {
	_, key, _ := strings.Cut(member, "|")
	return key
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (r *RedisRegistry) liveKeys(ctx context.Context, topic string, now time.Time) (Set, error) {
	members, err := r.client.ZRangeByScore(ctx, r.topicKey(topic), &redis.ZRangeBy{
		Min: "(" + millis(now),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence members: %w", err)
	}

	set := NewSet()
	for _, m := range members {
		set[keyOf(m)] = struct{}{}
	}
	return set, nil
}

// Track implements Registry.
func (r *RedisRegistry) Track(ctx context.Context, topic string, e Entry, now time.Time) (bool, error) {
	live, err := r.liveKeys(ctx, topic, now)
	if err != nil {
		return false, err
	}
	_, present := live[e.Key]

	key := r.topicKey(topic)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(e.ExpiresAt.UnixMilli()), Member: member(e)})
	pipe.PExpire(ctx, key, e.ExpiresAt.Sub(now)+time.Minute)
	pipe.SAdd(ctx, r.topicsKey(), topic)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to track presence: %w", err)
	}
	return !present, nil
}

// Untrack implements Registry.
func (r *RedisRegistry) Untrack(ctx context.Context, topic string, e Entry, now time.Time) (bool, error) {
	key := r.topicKey(topic)

	score, err := r.client.ZScore(ctx, key, member(e)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read presence entry: %w", err)
	}

	removed, err := r.client.ZRem(ctx, key, member(e)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to untrack presence: %w", err)
	}
	if removed == 0 || int64(score) <= now.UnixMilli() {
		return false, nil
	}

	live, err := r.liveKeys(ctx, topic, now)
	if err != nil {
		return false, err
	}
	_, stillPresent := live[e.Key]
	return !stillPresent, nil
}

// Members implements Registry.
func (r *RedisRegistry) Members(ctx context.Context, topic string, now time.Time) ([]string, error) {
	live, err := r.liveKeys(ctx, topic, now)
	if err != nil {
		return nil, err
	}
	return live.Keys(), nil
}

// Expire implements Registry. Concurrent sweeps from several instances are safe: only
// the instance whose ZREM removed an entry reports its key.
func (r *RedisRegistry) Expire(ctx context.Context, now time.Time) ([]Change, error) {
	topics, err := r.client.SMembers(ctx, r.topicsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence topics: %w", err)
	}
	sort.Strings(topics)

	var changes []Change
	for _, topic := range topics {
		key := r.topicKey(topic)

		expired, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: millis(now)}).Result()
		if err != nil {
			return changes, fmt.Errorf("failed to read expired presence: %w", err)
		}

		gone := NewSet()
		for _, m := range expired {
			n, err := r.client.ZRem(ctx, key, m).Result()
			if err != nil {
				return changes, fmt.Errorf("failed to expire presence: %w", err)
			}
			if n == 1 {
				gone[keyOf(m)] = struct{}{}
			}
		}

		live, err := r.liveKeys(ctx, topic, now)
		if err != nil {
			return changes, err
		}
		for _, k := range gone.Keys() {
			if _, ok := live[k]; !ok {
				changes = append(changes, Change{Topic: topic, Key: k})
			}
		}

		if card, err := r.client.ZCard(ctx, key).Result(); err == nil && card == 0 {
			r.client.SRem(ctx, r.topicsKey(), topic)
		}
	}
	return changes, nil
}
