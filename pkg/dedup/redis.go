package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

const redisKeyPrefix = "bioviews:cooldown"

// claimScript stamps KEYS[1] with ARGV[1] (epoch ms) unless it already holds a
// timestamp in [now-cooldown, now]. Corrupt or future values are overwritten.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[1]) or '')
if last and last > 0 and last <= now and now - last < tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisStore keeps cooldown records in Redis, partitioned by a device scope. The record
// endpoint uses it to drop repeat views that slipped past the client-side guard.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *observability.Logger
}

// NewRedisStore creates a store whose records expire after ttl. Records only matter for
// one cooldown window, so ttl is normally the cooldown itself.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *observability.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultCooldown
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RedisStore{
		client:  client,
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
		logger:  logger.WithComponent("dedup"),
	}
}

// Scoped returns a CooldownStore for one device (a user id or an IP hash).
func (s *RedisStore) Scoped(scope string) CooldownStore {
	return &scopedRedisStore{parent: s, scope: scope}
}

type scopedRedisStore struct {
	parent *RedisStore
	scope  string
}

func (s *scopedRedisStore) key(key string) string {
	return redisKeyPrefix + ":" + s.scope + ":" + key
}

// Get implements CooldownStore. Redis failures read as a missing record.
func (s *scopedRedisStore) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.parent.timeout)
	defer cancel()

	val, err := s.parent.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.parent.logger.WithError(err).Warn("cooldown lookup failed, treating as stale")
		return "", false
	}
	return val, true
}

// Set implements CooldownStore.
func (s *scopedRedisStore) Set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.parent.timeout)
	defer cancel()

	if err := s.parent.client.Set(ctx, s.key(key), value, s.parent.ttl).Err(); err != nil {
		s.parent.logger.WithError(err).Warn("cooldown write failed")
	}
}

// Claim implements Claimer with a single script call. Redis failures fail open.
func (s *scopedRedisStore) Claim(key string, now time.Time, cooldown time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.parent.timeout)
	defer cancel()

	ttl := s.parent.ttl
	if cooldown > ttl {
		ttl = cooldown
	}
	claimed, err := claimScript.Run(ctx, s.parent.client, []string{s.key(key)},
		strconv.FormatInt(now.UnixMilli(), 10),
		cooldown.Milliseconds(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		s.parent.logger.WithError(err).Warn("cooldown claim failed, treating as stale")
		return true
	}
	return claimed == 1
}
