package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pending-payment:"

// RedisStore keeps pending-payment markers in Redis so the marker
// survives whichever instance serves the return redirect.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put writes the marker with the given TTL, replacing any previous one
// for the session.
func (s *RedisStore) Put(ctx context.Context, sessionID string, m Marker, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("pending: marshaling marker: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sessionID, data, ttl).Err(); err != nil {
		return fmt.Errorf("pending: storing marker: %w", err)
	}
	return nil
}

// Get fetches and deletes the marker atomically (GETDEL), so a marker
// can only resolve one reconciliation run.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Marker, bool, error) {
	data, err := s.client.GetDel(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("pending: fetching marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("pending: decoding marker: %w", err)
	}
	return m, true, nil
}
