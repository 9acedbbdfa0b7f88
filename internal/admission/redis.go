package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript checks all three limits and records the request in one step.
// Returns 0 when admitted, 1 for burst, 2 for minute, 3 for hour.
var allowScript = redis.NewScript(`
	local hits = KEYS[1]
	local inflight = KEYS[2]
	local now = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local per_minute = tonumber(ARGV[3])
	local per_hour = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', hits, '-inf', now - 3600000)

	local minute_count = redis.call('ZCOUNT', hits, '(' .. (now - 60000), '+inf')
	if minute_count >= per_minute then
		return 2
	end
	if redis.call('ZCARD', hits) >= per_hour then
		return 3
	end
	local current = tonumber(redis.call('GET', inflight) or '0')
	if current >= burst then
		return 1
	end

	redis.call('ZADD', hits, now, ARGV[5])
	redis.call('PEXPIRE', hits, 3600000)
	redis.call('INCR', inflight)
	redis.call('PEXPIRE', inflight, 3600000)
	return 0
`)

// releaseScript decrements the in-flight counter and drops it at zero.
var releaseScript = redis.NewScript(`
	local v = redis.call('DECR', KEYS[1])
	if v <= 0 then
		redis.call('DEL', KEYS[1])
	end
	return v
`)

// RedisController shares admission state across replicas. Keys expire once
// a client has been idle for an hour.
type RedisController struct {
	client *redis.Client
	limits Limits
	now    func() time.Time
}

// NewRedisController connects to Redis and verifies the connection.
func NewRedisController(addr, password string, db int, limits Limits) (*RedisController, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if limits.BurstRetryAfter <= 0 {
		limits.BurstRetryAfter = 1
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisController{client: client, limits: limits, now: time.Now}, nil
}

// Allow admits the request when none of the three limits is exhausted.
// Redis errors admit the request so that admission never halts processing.
func (c *RedisController) Allow(ctx context.Context, clientKey string) (bool, int) {
	hits, inflight := c.keys(clientKey)
	member := strconv.FormatInt(c.now().UnixMilli(), 10) + ":" + uuid.New().String()

	code, err := allowScript.Run(ctx, c.client, []string{hits, inflight},
		c.now().UnixMilli(),
		c.limits.Burst,
		c.limits.PerMinute,
		c.limits.PerHour,
		member,
	).Int()
	if err != nil {
		slog.Warn("admission check failed, admitting",
			"client_key", clientKey,
			"error", err,
		)
		return true, 0
	}

	switch code {
	case 0:
		metrics.AdmissionInFlight.Inc()
		return true, 0
	case 1:
		metrics.AdmissionRejectionsTotal.WithLabelValues(WindowBurst).Inc()
		return false, c.limits.BurstRetryAfter
	case 2:
		metrics.AdmissionRejectionsTotal.WithLabelValues(WindowMinute).Inc()
		return false, windowRetryAfter
	default:
		metrics.AdmissionRejectionsTotal.WithLabelValues(WindowHour).Inc()
		return false, windowRetryAfter
	}
}

// Release decrements the in-flight counter. It uses its own context so that
// a cancelled request still releases its slot.
func (c *RedisController) Release(clientKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, inflight := c.keys(clientKey)
	if err := releaseScript.Run(ctx, c.client, []string{inflight}).Err(); err != nil {
		slog.Warn("admission release failed",
			"client_key", clientKey,
			"error", err,
		)
		return
	}
	metrics.AdmissionInFlight.Dec()
}

// Limit returns the per-minute limit.
func (c *RedisController) Limit() int {
	return c.limits.PerMinute
}

// Ping checks Redis connectivity.
func (c *RedisController) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisController) Close() error {
	return c.client.Close()
}

func (c *RedisController) keys(clientKey string) (hits, inflight string) {
	base := "sentra:admission:{" + clientKey + "}"
	return base + ":hits", base + ":inflight"
}
