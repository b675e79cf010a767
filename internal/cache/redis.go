package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexprut/radiocms/internal/models"
)

const (
	// Pub/Sub channel for catalog writes; every instance drops its cached
	// analytics responses when another instance mutates the catalog.
	ChannelCatalogEvents = "radiocms:catalog"

	// Key prefixes
	PrefixRateLimit = "ratelimit:"
	PrefixLock      = "lock:"
)

// RedisClient handles the cross-instance concerns the in-process response
// cache cannot: upload rate limiting, distributed upload locks, and catalog
// invalidation events. It is an optional collaborator; the server runs
// without it.
type RedisClient struct {
	client     redis.UniversalClient
	instanceID string
	pubsub     *redis.PubSub

	eventHandlers []func(models.CatalogEvent)
	handlersMu    sync.RWMutex
}

// NewRedisClient creates a Redis client with Sentinel support for HA
func NewRedisClient(ctx context.Context, sentinelAddrs []string, masterName, password, instanceID string) (*RedisClient, error) {
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:      masterName,
		SentinelAddrs:   sentinelAddrs,
		Password:        password,
		DB:              0,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        20,
		MinIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	rc := &RedisClient{
		client:     client,
		instanceID: instanceID,
	}

	rc.pubsub = client.Subscribe(ctx, ChannelCatalogEvents)
	go rc.listenPubSub(ctx)

	return rc, nil
}

func (rc *RedisClient) Close() error {
	if rc.pubsub != nil {
		rc.pubsub.Close()
	}
	return rc.client.Close()
}

func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// ============== Catalog invalidation events ==============

// PublishCatalogEvent broadcasts a catalog write to all instances.
func (rc *RedisClient) PublishCatalogEvent(ctx context.Context, event models.CatalogEvent) error {
	event.InstanceID = rc.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return rc.client.Publish(ctx, ChannelCatalogEvents, data).Err()
}

// OnCatalogEvent registers a handler for catalog events from all instances.
func (rc *RedisClient) OnCatalogEvent(handler func(models.CatalogEvent)) {
	rc.handlersMu.Lock()
	rc.eventHandlers = append(rc.eventHandlers, handler)
	rc.handlersMu.Unlock()
}

func (rc *RedisClient) listenPubSub(ctx context.Context) {
	ch := rc.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var event models.CatalogEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err == nil {
				rc.handlersMu.RLock()
				for _, handler := range rc.eventHandlers {
					go handler(event)
				}
				rc.handlersMu.RUnlock()
			}
		}
	}
}

// ============== Rate Limiting ==============

func (rc *RedisClient) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	fullKey := PrefixRateLimit + key

	pipe := rc.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, err
	}

	count := int(incr.Val())
	return count <= limit, limit - count, nil
}

// ============== Distributed Locking ==============

func (rc *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return rc.client.SetNX(ctx, PrefixLock+key, rc.instanceID, ttl).Result()
}

func (rc *RedisClient) ReleaseLock(ctx context.Context, key string) error {
	// Only release if we own the lock
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	return rc.client.Eval(ctx, script, []string{PrefixLock + key}, rc.instanceID).Err()
}
