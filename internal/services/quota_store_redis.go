package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const quotaKeyTTL = 48 * time.Hour

// KEYS[1] counter hash; ARGV: day, limit, ttl seconds.
// Returns {used, allowed}.
var consumeScript = redis.NewScript(`
local day = redis.call('HGET', KEYS[1], 'day')
local count = 0
if day == ARGV[1] then
	count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
end
local limit = tonumber(ARGV[2])
if limit ~= -1 and count >= limit then
	return {count, 0}
end
count = count + 1
redis.call('HSET', KEYS[1], 'day', ARGV[1], 'count', count)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {count, 1}
`)

type RedisQuotaStore struct {
	client *redis.Client
}

func NewRedisQuotaStore(client *redis.Client) *RedisQuotaStore {
	return &RedisQuotaStore{client: client}
}

func quotaRedisKey(userID, tier string) string {
	return fmt.Sprintf("quota:{%s}:%s", userID, tier)
}

func (s *RedisQuotaStore) Consume(ctx context.Context, userID, tier, day string, limit int64) (int64, bool, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{quotaRedisKey(userID, tier)},
		day, limit, int64(quotaKeyTTL/time.Second),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("quota script failed: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("quota script returned %d values", len(res))
	}
	return res[0], res[1] == 1, nil
}

func (s *RedisQuotaStore) Peek(ctx context.Context, userID, tier, day string) (int64, error) {
	values, err := s.client.HMGet(ctx, quotaRedisKey(userID, tier), "day", "count").Result()
	if err != nil {
		return 0, err
	}
	storedDay, _ := values[0].(string)
	if storedDay != day {
		return 0, nil
	}
	countStr, _ := values[1].(string)
	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed quota counter: %w", err)
	}
	return count, nil
}
