// Package snapshot implements the Product Snapshot Cache (C4): an eventually
// consistent local copy of Store-service catalog state, fed by product.*
// events, with Postgres as the durable store of record and Redis as a
// cache-aside accelerator in front of it (grounded on the teacher's
// CachedStore/ItemCache shape, adapted so the durable copy is local instead
// of remote — the Order service must survive a Redis restart without losing
// the only copy of its read model).
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Snapshot is the Order service's read-side view of a Store product.
type Snapshot struct {
	ProductID string  `json:"productId"`
	StoreID   string  `json:"storeId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
	Available bool    `json:"available"`
}

type Cache struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

func New(db *sql.DB, redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{db: db, redis: redisClient, ttl: ttl}
}

// Upsert idempotently writes s into the durable snapshot table and
// invalidates the Redis entry, so the next FindAll reconciles fresh. Used by
// every product.* event handler except product.deleted, which calls Delete.
func (c *Cache) Upsert(ctx context.Context, s Snapshot) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO product_snapshots (product_id, store_id, name, price, stock, available)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (product_id) DO UPDATE SET
		   store_id = EXCLUDED.store_id, name = EXCLUDED.name, price = EXCLUDED.price,
		   stock = EXCLUDED.stock, available = EXCLUDED.available`,
		s.ProductID, s.StoreID, s.Name, s.Price, s.Stock, s.Available)
	if err != nil {
		return fmt.Errorf("snapshot: upsert %s: %w", s.ProductID, err)
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, cacheKey(s.ProductID)).Err()
	}
	return nil
}

// Delete removes productId, for product.deleted events.
func (c *Cache) Delete(ctx context.Context, productID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM product_snapshots WHERE product_id = $1`, productID)
	if err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", productID, err)
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, cacheKey(productID)).Err()
	}
	return nil
}

// FindAll returns a map of productID -> Snapshot for every id found, serving
// from Redis where possible and reconciling misses from Postgres, mirroring
// the teacher's batch-MGET-then-reconcile cache-aside shape.
func (c *Cache) FindAll(ctx context.Context, productIDs []string) (map[string]Snapshot, error) {
	result := make(map[string]Snapshot, len(productIDs))
	var misses []string

	if c.redis != nil {
		keys := make([]string, len(productIDs))
		for i, id := range productIDs {
			keys[i] = cacheKey(id)
		}
		values, err := c.redis.MGet(ctx, keys...).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("snapshot: redis mget: %w", err)
		}
		for i, v := range values {
			if v == nil {
				misses = append(misses, productIDs[i])
				continue
			}
			var s Snapshot
			if err := json.Unmarshal([]byte(v.(string)), &s); err == nil {
				result[s.ProductID] = s
			}
		}
	} else {
		misses = productIDs
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.fetchFromDB(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, s := range fetched {
		result[id] = s
		c.cacheAside(ctx, s)
	}
	return result, nil
}

func (c *Cache) fetchFromDB(ctx context.Context, ids []string) (map[string]Snapshot, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT product_id, store_id, name, price, stock, available FROM product_snapshots WHERE product_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("snapshot: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Snapshot)
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ProductID, &s.StoreID, &s.Name, &s.Price, &s.Stock, &s.Available); err != nil {
			return nil, fmt.Errorf("snapshot: scan: %w", err)
		}
		out[s.ProductID] = s
	}
	return out, rows.Err()
}

func (c *Cache) cacheAside(ctx context.Context, s Snapshot) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(s.ProductID), payload, c.ttl).Err()
}

func cacheKey(productID string) string { return "product_snapshot:" + productID }
