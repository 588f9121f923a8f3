// Package redis provides a hot cache of open position state shared between
// engine replicas. Redis is an availability optimization, never the source of
// truth: Postgres holds the durable record, and when Redis is unreachable the
// cache degrades to process-local memory so decisions keep flowing.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"copytrade-engine/internal/domain"
)

// Key layout and retention.
const (
	// positionKeyPrefix keys one open position: engine:position:{position_id}
	positionKeyPrefix = "engine:position"

	// positionSetKey holds the IDs of all cached open positions.
	positionSetKey = "engine:positions:open"

	// positionTTL outlives any realistic position lifetime; closed positions
	// are deleted explicitly, the TTL only reaps leaks.
	positionTTL = 7 * 24 * time.Hour
)

// PositionCache mirrors open positions in Redis with an in-memory fallback.
type PositionCache struct {
	client    *redis.Client
	log       zerolog.Logger
	available atomic.Bool

	mu       sync.RWMutex
	fallback map[string]*domain.Position
}

// NewPositionCache creates a position cache. A nil client runs memory-only.
func NewPositionCache(client *redis.Client, log zerolog.Logger) *PositionCache {
	c := &PositionCache{
		client:   client,
		log:      log,
		fallback: make(map[string]*domain.Position),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable at startup, position cache is memory-only")
		} else {
			c.available.Store(true)
		}
	}

	return c
}

func positionKey(positionID string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, positionID)
}

// Save caches a position. Redis failures downgrade to the local fallback
// without surfacing an error; the durable store already has the row.
func (c *PositionCache) Save(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return fmt.Errorf("cannot cache empty position")
	}

	c.mu.Lock()
	cp := *p
	c.fallback[p.PositionID] = &cp
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.PositionID, err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, positionKey(p.PositionID), data, positionTTL)
	pipe.SAdd(ctx, positionSetKey, p.PositionID)
	pipe.Expire(ctx, positionSetKey, positionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("position_id", p.PositionID).
			Msg("redis save failed, position cache degraded to memory")
		c.available.Store(false)
	}
	return nil
}

// Load retrieves a cached position. Returns nil when absent.
func (c *PositionCache) Load(ctx context.Context, positionID string) (*domain.Position, error) {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, positionKey(positionID)).Result()
		switch {
		case err == redis.Nil:
			return c.loadFallback(positionID), nil
		case err != nil:
			c.log.Warn().Err(err).Msg("redis read failed, position cache degraded to memory")
			c.available.Store(false)
			return c.loadFallback(positionID), nil
		}

		var p domain.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal cached position %s: %w", positionID, err)
		}
		return &p, nil
	}

	return c.loadFallback(positionID), nil
}

// LoadOpen retrieves every cached open position.
func (c *PositionCache) LoadOpen(ctx context.Context) ([]*domain.Position, error) {
	if c.client != nil && c.available.Load() {
		ids, err := c.client.SMembers(ctx, positionSetKey).Result()
		if err != nil && err != redis.Nil {
			c.log.Warn().Err(err).Msg("redis read failed, position cache degraded to memory")
			c.available.Store(false)
			return c.allFallback(), nil
		}

		var positions []*domain.Position
		for _, id := range ids {
			p, err := c.Load(ctx, id)
			if err != nil {
				c.log.Warn().Err(err).Str("position_id", id).Msg("skipping corrupt cached position")
				continue
			}
			if p != nil && p.Open() {
				positions = append(positions, p)
			}
		}
		return positions, nil
	}

	return c.allFallback(), nil
}

// Delete evicts a position, called once the position resolves.
func (c *PositionCache) Delete(ctx context.Context, positionID string) {
	c.mu.Lock()
	delete(c.fallback, positionID)
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, positionKey(positionID))
	pipe.SRem(ctx, positionSetKey, positionID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("position_id", positionID).Msg("redis delete failed")
		c.available.Store(false)
	}
}

// Available reports whether Redis is currently reachable.
func (c *PositionCache) Available() bool {
	return c.available.Load()
}

// HealthCheck pings Redis and updates availability. A recovered connection
// re-syncs the fallback contents.
func (c *PositionCache) HealthCheck(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("no redis client configured")
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.available.Store(false)
		return fmt.Errorf("redis ping: %w", err)
	}

	recovered := !c.available.Load()
	c.available.Store(true)
	if recovered {
		c.log.Info().Msg("redis connection recovered, syncing position cache")
		c.syncFallback(ctx)
	}
	return nil
}

func (c *PositionCache) loadFallback(positionID string) *domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.fallback[positionID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (c *PositionCache) allFallback() []*domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var positions []*domain.Position
	for _, p := range c.fallback {
		if p.Open() {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	return positions
}

func (c *PositionCache) syncFallback(ctx context.Context) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, p := range c.fallback {
		data, err := json.Marshal(p)
		if err != nil {
			c.log.Warn().Err(err).Str("position_id", id).Msg("skipping unmarshalable position in sync")
			continue
		}
		pipe := c.client.TxPipeline()
		pipe.Set(ctx, positionKey(id), data, positionTTL)
		pipe.SAdd(ctx, positionSetKey, id)
		pipe.Expire(ctx, positionSetKey, positionTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			c.log.Warn().Err(err).Str("position_id", id).Msg("failed to sync cached position to redis")
			return
		}
	}
}
