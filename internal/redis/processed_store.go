package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultProcessedTTL bounds how long a processed marker is remembered.
// It must exceed the queue's visibility timeout.
const DefaultProcessedTTL = 24 * time.Hour

func processedKey(eventID string) string { return "event:done:" + eventID }

// ProcessedStore remembers which events have been handled successfully so a
// redelivered event can be acked without running its handler again.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type processedStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProcessedStore creates a Redis-backed ProcessedStore. A zero ttl uses
// DefaultProcessedTTL.
func NewProcessedStore(client *redis.Client, ttl time.Duration) ProcessedStore {
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &processedStore{client: client, ttl: ttl}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *processedStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	err := s.client.Get(ctx, processedKey(eventID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get processed marker for %s: %w", eventID, err)
	}
	return true, nil
}

func (s *processedStore) MarkProcessed(ctx context.Context, eventID string) error {
	err := s.client.Set(ctx, processedKey(eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set processed marker for %s: %w", eventID, err)
	}
	return nil
}
