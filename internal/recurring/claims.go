package recurring

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer hands out advisory claims so concurrent scheduler workers never
// process the same rule for the same tick. Claims are cooperative: losing
// one means another worker owns the unit of work.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisClaimer implements claims with SETNX, the same reservation trick the
// idempotency middleware uses.
type RedisClaimer struct {
	client *redis.Client
	prefix string
}

// NewRedisClaimer builds a claimer over the shared Redis client.
func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client, prefix: "recurring:claim:"}
}

// Claim acquires the key if unclaimed. The TTL bounds how long a crashed
// worker can hold a claim.
func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, 1, ttl).Result()
}

type memoryClaimer struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

// NewMemoryClaimer creates an in-process claimer for tests and the dev-mode
// fallback.
func NewMemoryClaimer() Claimer {
	return &memoryClaimer{claims: make(map[string]time.Time)}
}

func (c *memoryClaimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if until, ok := c.claims[key]; ok && now.Before(until) {
		return false, nil
	}
	c.claims[key] = now.Add(ttl)
	return true, nil
}
