package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"taxdesk/pkg/platform/sentinel"
)

// keyTTL bounds how long an idempotency key blocks reuse. Long enough to
// cover the full ack-wait window plus operator slack.
const keyTTL = 72 * time.Hour

const keyPrefix = "taxdesk:idem:"

// RedisGuard claims keys with SET NX, which gives first-writer-wins across
// processes without a coordination table.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Reserve(ctx context.Context, key string, filingID uuid.UUID) (*Outcome, error) {
	pending := Outcome{
		FilingID:   filingID,
		Status:     StatusPending,
		RecordedAt: time.Now(),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("marshal pending outcome: %w", err)
	}

	claimed, err := g.client.SetNX(ctx, keyPrefix+key, data, keyTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	existing, err := g.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Key expired between SETNX and GET; treat as a conflict the
			// caller should retry.
			return nil, sentinel.ErrConflict
		}
		return nil, err
	}
	return existing, sentinel.ErrAlreadyUsed
}

func (g *RedisGuard) Record(ctx context.Context, key string, outcome Outcome) error {
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now()
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := g.client.Set(ctx, keyPrefix+key, data, keyTTL).Err(); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (g *RedisGuard) Get(ctx context.Context, key string) (*Outcome, error) {
	data, err := g.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &outcome, nil
}
