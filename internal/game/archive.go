package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ugshanyu/space-craft-standalone/internal/webhook"
)

// Archive keeps a short-lived copy of final match results in Redis so that
// operators and the matchmaking API can look a result up after the room is
// gone. Live match state is never persisted.
type Archive struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewArchive connects an archive to the given Redis address. TTL bounds how
// long result records are retained.
func NewArchive(addr string, ttl time.Duration) *Archive {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Archive{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func resultKey(roomID string) string {
	return "usion:result:" + roomID
}

// StoreResult writes the result record under the room's key.
func (a *Archive) StoreResult(ctx context.Context, roomID string, result *webhook.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := a.rdb.Set(ctx, resultKey(roomID), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// LoadResult fetches a previously archived result, or nil when absent.
func (a *Archive) LoadResult(ctx context.Context, roomID string) (*webhook.MatchResult, error) {
	data, err := a.rdb.Get(ctx, resultKey(roomID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	var result webhook.MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// Close releases the Redis connection.
func (a *Archive) Close() error { return a.rdb.Close() }
