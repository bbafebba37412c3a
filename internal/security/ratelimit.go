package security

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultKeyPrefix namespaces limiter state so the tracker can share a
// redis instance with the session store.
const defaultKeyPrefix = "fintrack:rl"

// RedisTokenBucket throttles the message and mutation endpoints per
// caller. A zero-valued bucket (no client or no capacity) is an explicit
// off switch: Allow admits everything.
type RedisTokenBucket struct {
	Redis      *redis.Client
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second
}

// Decision is the outcome of one Allow call. RetryAfter is set only on
// denial: how long until the next token exists.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// One bucket per key lives in a redis hash of {tokens, last} and refills
// lazily on access, so idle buckets cost nothing and expire on their own.
// The fractional fill level is returned as a string because the redis
// protocol truncates Lua numbers to integers.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = now - last
if elapsed < 0 then elapsed = 0 end

local filled = tokens + (elapsed * refill_rate)
if filled > capacity then filled = capacity end

local allowed = 0
if filled >= 1 then
  allowed = 1
  filled = filled - 1
end

redis.call('HSET', key, 'tokens', filled, 'last', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tostring(filled)}
`)

func (l *RedisTokenBucket) key(raw string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + ":" + raw
}

// Allow spends one token for key.
func (l *RedisTokenBucket) Allow(ctx context.Context, rawKey string) (Decision, error) {
	if l.Redis == nil || l.Capacity <= 0 || l.RefillRate <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	ttl := int64(float64(l.Capacity)/l.RefillRate) + 1

	res, err := tokenBucketScript.Run(ctx, l.Redis, []string{l.key(rawKey)}, l.Capacity, l.RefillRate, now, ttl).Result()
	if err != nil {
		return Decision{}, err
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply: %v", res)
	}
	allowed, okAllowed := replyInt(reply[0])
	filled, okFilled := replyFloat(reply[1])
	if !okAllowed || !okFilled {
		return Decision{}, fmt.Errorf("unexpected token bucket reply: %v", res)
	}

	d := Decision{Allowed: allowed == 1, Remaining: int(filled)}
	if !d.Allowed {
		if deficit := 1 - filled; deficit > 0 {
			d.RetryAfter = time.Duration(math.Ceil(deficit/l.RefillRate)) * time.Second
		}
	}
	return d, nil
}

func replyInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func replyFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// RateLimitMiddleware enforces the bucket per keyFn(r). Requests without a
// key pass through; a denied request carries a Retry-After hint.
func RateLimitMiddleware(l *RedisTokenBucket, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFn != nil {
				key = keyFn(r)
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				WriteJSONError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable")
				return
			}
			if !d.Allowed {
				if d.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter/time.Second)))
				}
				WriteJSONError(w, r, http.StatusTooManyRequests, "rate_limited")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
