package keystore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// chargeScript atomically increments the per-key-per-second rate bucket and
// applies its 1s TTL only at creation, so the bucket resets exactly on
// wall-second boundaries rather than sliding forward on every hit.
const chargeScript = `
local key = KEYS[1]
local count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, 1)
end
return count
`

// RedisStore is the production KeyStore backend: API-key records and
// rate-limit buckets live in Redis, fronted by an in-process TTL cache.
type RedisStore struct {
	client *redis.Client
	cache  *keyCache
}

// NewRedisStore builds a RedisStore against the given Redis URL
// (redis://[:password@]host:port/db).
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("keystore: parsing redis url: %w", err)
	}
	return &RedisStore{
		client: redis.NewClient(opt),
		cache:  newKeyCache(4096),
	}, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ValidateKey implements KeyStore per spec: cache probe, remote fetch on
// miss, atomic rate-limit charge, closed-outcome result.
func (s *RedisStore) ValidateKey(ctx context.Context, key string) Outcome {
	info, cached := s.cache.get(key)
	if !cached {
		fetched, ok, err := s.fetchRecord(ctx, key)
		if err != nil {
			return Outcome{Status: StatusStoreError, Err: err}
		}
		if !ok || !fetched.Active {
			return Outcome{Status: StatusInvalid}
		}
		s.cache.set(key, fetched)
		info = fetched
	} else if !info.Active {
		return Outcome{Status: StatusInvalid}
	}

	if info.RateLimitRPS > 0 {
		count, err := s.charge(ctx, key)
		if err != nil {
			return Outcome{Status: StatusStoreError, Err: err}
		}
		if count > info.RateLimitRPS {
			return Outcome{Status: StatusRateLimited}
		}
	}

	return Outcome{Status: StatusValid, Info: info}
}

func (s *RedisStore) fetchRecord(ctx context.Context, key string) (KeyInfo, bool, error) {
	fields, err := s.client.HGetAll(ctx, apiKeyRedisKey(key)).Result()
	if err != nil {
		return KeyInfo{}, false, fmt.Errorf("keystore: redis hgetall %q: %w", key, err)
	}
	if len(fields) == 0 {
		return KeyInfo{}, false, nil
	}

	info := KeyInfo{Owner: fields["owner"]}
	if v, ok := fields["active"]; ok {
		info.Active = v == "1" || v == "true"
	}
	if v, ok := fields["rate_limit_rps"]; ok {
		rps, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			return KeyInfo{}, false, fmt.Errorf("keystore: parsing rate_limit_rps for %q: %w", key, parseErr)
		}
		info.RateLimitRPS = rps
	}
	return info, true, nil
}

func (s *RedisStore) charge(ctx context.Context, key string) (int64, error) {
	bucket := rateBucketRedisKey(key, time.Now().Unix())
	res, err := s.client.Eval(ctx, chargeScript, []string{bucket}).Result()
	if err != nil {
		return 0, fmt.Errorf("keystore: redis eval charge %q: %w", key, err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("keystore: unexpected charge script result type %T", res)
	}
	return count, nil
}

func apiKeyRedisKey(key string) string { return fmt.Sprintf("apikey:%s", key) }

func rateBucketRedisKey(key string, unixSecond int64) string {
	return fmt.Sprintf("rate:%s:%d", key, unixSecond)
}
