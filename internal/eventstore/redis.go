package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
)

// RedisStore persists event logs as Redis lists and documents as plain keys,
// so a session's log survives process restarts and can be replayed.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (that *RedisStore) AppendEvent(ctx context.Context, id string, event Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	eventsKey := "events:" + id
	if err = that.client.RPush(ctx, eventsKey, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (that *RedisStore) Events(ctx context.Context, id string) ([]Event, error) {
	eventsKey := "events:" + id

	response, err := that.client.LRange(ctx, eventsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get events by id: %w", err)
	}

	events := make([]Event, 0, len(response))
	for _, item := range response {
		var event Event
		if err = json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}

func (that *RedisStore) SaveDocument(ctx context.Context, id string, document []byte) error {
	documentKey := "document:" + id

	created, err := that.client.SetNX(ctx, documentKey, document, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: %s", apperror.ErrDocumentAlreadyExists, id)
	}

	return nil
}

func (that *RedisStore) Document(ctx context.Context, id string) ([]byte, error) {
	documentKey := "document:" + id

	response, err := that.client.Get(ctx, documentKey).Bytes()

	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrDocumentNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document by id: %w", err)
	}

	return response, nil
}

func (that *RedisStore) Close() error {
	return that.client.Close()
}
