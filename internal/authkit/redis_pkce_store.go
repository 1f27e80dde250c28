package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPKCEKeyPrefix = "xauth:pkce:"

// RedisPKCEStore is the redis durable tier. Records are JSON values with a native TTL
// and Take uses GETDEL, so only one caller observes a given state.
type RedisPKCEStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisPKCEStore wraps a connected client.
func NewRedisPKCEStore(client redis.UniversalClient) *RedisPKCEStore {
	return &RedisPKCEStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenRedisPKCEStore parses a redis:// or rediss:// URL and verifies connectivity.
func OpenRedisPKCEStore(ctx context.Context, redisURL string) (*RedisPKCEStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("pkce_store.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pkce_store.redis.ping: %w", err)
	}
	return NewRedisPKCEStore(client), nil
}

// Name labels the tier in logs.
func (store *RedisPKCEStore) Name() string {
	return "redis"
}

// Close releases the client.
func (store *RedisPKCEStore) Close() error {
	return store.client.Close()
}

// Save writes the record with an expiry matching its deadline.
func (store *RedisPKCEStore) Save(ctx context.Context, record PKCERecord) error {
	ttl := record.ExpiresAt.Sub(store.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("pkce_store.redis.save: %w", err)
	}
	if err := store.client.Set(ctx, redisPKCEKeyPrefix+record.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("pkce_store.redis.save: %w", err)
	}
	return nil
}

// Load reads the record without deleting it.
func (store *RedisPKCEStore) Load(ctx context.Context, state string) (PKCERecord, error) {
	payload, err := store.client.Get(ctx, redisPKCEKeyPrefix+state).Bytes()
	return store.decode("load", payload, err)
}

// Take atomically reads and deletes the record.
func (store *RedisPKCEStore) Take(ctx context.Context, state string) (PKCERecord, error) {
	payload, err := store.client.GetDel(ctx, redisPKCEKeyPrefix+state).Bytes()
	return store.decode("take", payload, err)
}

// Remove deletes the record.
func (store *RedisPKCEStore) Remove(ctx context.Context, state string) error {
	if err := store.client.Del(ctx, redisPKCEKeyPrefix+state).Err(); err != nil {
		return fmt.Errorf("pkce_store.redis.remove: %w", err)
	}
	return nil
}

func (store *RedisPKCEStore) decode(operation string, payload []byte, err error) (PKCERecord, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PKCERecord{}, ErrStateNotFound
		}
		return PKCERecord{}, fmt.Errorf("pkce_store.redis.%s: %w", operation, err)
	}
	var record PKCERecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return PKCERecord{}, fmt.Errorf("pkce_store.redis.%s: decode: %w", operation, err)
	}
	return record, nil
}
