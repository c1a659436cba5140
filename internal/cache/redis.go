package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"retmusic/searchservice/internal/domain"
)

const searchKeyPrefix = "retmusic:search:"

// SearchEntry is the value mirrored into Redis for one cached search.
type SearchEntry struct {
	Query     string               `json:"query"`
	Results   []domain.MediaRecord `json:"results"`
	Source    string               `json:"source"`
	CreatedAt time.Time            `json:"created_at"`
}

// RedisMirror shares hot search entries between instances. Every method is
// best effort: callers fall through to SQLite on any error.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) GetSearch(ctx context.Context, hash string) (SearchEntry, bool, error) {
	raw, err := m.client.Get(ctx, searchKeyPrefix+hash).Result()
	if err == redis.Nil {
		return SearchEntry{}, false, nil
	}
	if err != nil {
		return SearchEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry SearchEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return SearchEntry{}, false, fmt.Errorf("decode mirrored entry: %w", err)
	}
	return entry, true, nil
}

func (m *RedisMirror) SetSearch(ctx context.Context, hash string, entry SearchEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode mirrored entry: %w", err)
	}
	if err := m.client.Set(ctx, searchKeyPrefix+hash, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
