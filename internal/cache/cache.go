// Package cache implements the three-tier read-through / write-through cache
// in front of the exchange clients. L1 is an in-process bounded map, L2 an
// optional shared redis, L3 an optional durable sqlite store. Values cross
// tier boundaries as msgpack blobs.
package cache

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// accountPrefixes are the key classes wiped after any successful order.
var accountPrefixes = []string{"cash_balance", "account_balance", "pending_orders", "filled_orders"}

// longTTLPrefixes are the key classes worth persisting to L2/L3 with an
// extended (ttl x 10) lifetime. Short-lived account keys stay L1-only.
var longTTLPrefixes = []string{"stock_info", "daily_chart", "stock_list", "holidays"}

// Config holds cache construction settings.
type Config struct {
	L1MaxSize  int
	TTLs       map[string]time.Duration // Per-prefix default TTLs
	DefaultTTL time.Duration
	RedisAddr  string  // Empty disables L2
	RedisDB    int
	DiskDB     *sql.DB // Nil disables L3
}

// Stats reports hit/miss counters and sizes by tier.
type Stats struct {
	L1Hits  int64   `json:"l1_hits"`
	L2Hits  int64   `json:"l2_hits"`
	L3Hits  int64   `json:"l3_hits"`
	Misses  int64   `json:"misses"`
	L1Size  int     `json:"l1_size"`
	L2Size  int     `json:"l2_size"`
	L3Size  int     `json:"l3_size"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the tiered cache.
type Cache struct {
	l1         *l1Store
	l2         *redisTier  // Nil when disabled
	l3         *sqliteTier // Nil when disabled
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	log        zerolog.Logger

	l1Hits int64
	l2Hits int64
	l3Hits int64
	misses int64

	writeWG sync.WaitGroup // Tracks async L2/L3 writes for clean shutdown
}

// New creates a cache with the configured tiers.
func New(cfg Config, log zerolog.Logger) *Cache {
	c := &Cache{
		l1:         newL1Store(cfg.L1MaxSize),
		ttls:       cfg.TTLs,
		defaultTTL: cfg.DefaultTTL,
		log:        log.With().Str("component", "cache").Logger(),
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = 60 * time.Second
	}
	if cfg.RedisAddr != "" {
		c.l2 = newRedisTier(cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.DiskDB != nil {
		c.l3 = newSQLiteTier(cfg.DiskDB)
	}
	return c
}

// DefaultTTLFor returns the default TTL for a key based on its prefix.
func (c *Cache) DefaultTTLFor(key string) time.Duration {
	for prefix, ttl := range c.ttls {
		if strings.HasPrefix(key, prefix) {
			return ttl
		}
	}
	return c.defaultTTL
}

// Get reads through the tiers and decodes the value into dest, which must be
// a pointer. A hit on L2 or L3 is promoted upward at the key's default TTL.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	now := time.Now()

	if value, ok := c.l1.get(key, now); ok {
		atomic.AddInt64(&c.l1Hits, 1)
		return true, msgpack.Unmarshal(value, dest)
	}

	promoteTTL := c.DefaultTTLFor(key)

	if c.l2 != nil {
		value, ok, err := c.l2.get(ctx, key)
		if err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("L2 read failed, falling through")
		} else if ok {
			atomic.AddInt64(&c.l2Hits, 1)
			c.l1.set(key, value, promoteTTL, now)
			return true, msgpack.Unmarshal(value, dest)
		}
	}

	if c.l3 != nil {
		value, ok, err := c.l3.get(ctx, key)
		if err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("L3 read failed, falling through")
		} else if ok {
			atomic.AddInt64(&c.l3Hits, 1)
			c.l1.set(key, value, promoteTTL, now)
			if c.l2 != nil {
				if err := c.l2.set(ctx, key, value, promoteTTL); err != nil {
					c.log.Debug().Err(err).Str("key", key).Msg("L2 promotion failed")
				}
			}
			return true, msgpack.Unmarshal(value, dest)
		}
	}

	atomic.AddInt64(&c.misses, 1)
	return false, nil
}

// Set writes the value to L1 with ttl (0 = prefix default). Keys in the
// long-TTL classes are also written to L2/L3 asynchronously with ttl x 10.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.DefaultTTLFor(key)
	}

	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	c.l1.set(key, encoded, ttl, time.Now())

	if !isLongTTL(key) || (c.l2 == nil && c.l3 == nil) {
		return nil
	}

	persistTTL := ttl * 10
	c.writeWG.Add(1)
	go func() {
		defer c.writeWG.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if c.l2 != nil {
			if err := c.l2.set(writeCtx, key, encoded, persistTTL); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("L2 write failed")
			}
		}
		if c.l3 != nil {
			if err := c.l3.set(writeCtx, key, encoded, persistTTL); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("L3 write failed")
			}
		}
	}()

	return nil
}

// Delete removes a key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.l1.delete(key)
	if c.l2 != nil {
		if err := c.l2.delete(ctx, key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("L2 delete failed")
		}
	}
	if c.l3 != nil {
		if err := c.l3.delete(ctx, key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("L3 delete failed")
		}
	}
}

// InvalidateAccount deletes every key in the account classes across all
// tiers. Called after every successful order.
func (c *Cache) InvalidateAccount(ctx context.Context) {
	c.l1.deletePrefix(accountPrefixes)
	for _, prefix := range accountPrefixes {
		if c.l2 != nil {
			if err := c.l2.deletePrefix(ctx, prefix); err != nil {
				c.log.Debug().Err(err).Str("prefix", prefix).Msg("L2 invalidation failed")
			}
		}
		if c.l3 != nil {
			if err := c.l3.deletePrefix(ctx, prefix); err != nil {
				c.log.Debug().Err(err).Str("prefix", prefix).Msg("L3 invalidation failed")
			}
		}
	}
}

// Sweep purges expired entries from L1 and L3. Intended to run every five
// minutes on the cron schedule.
func (c *Cache) Sweep(ctx context.Context) {
	removed := c.l1.purgeExpired(time.Now())
	if c.l3 != nil {
		diskRemoved, err := c.l3.purgeExpired(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("L3 sweep failed")
		} else {
			removed += diskRemoved
		}
	}
	if removed > 0 {
		c.log.Debug().Int("removed", removed).Msg("Swept expired cache entries")
	}
}

// Stats returns hit counters and per-tier sizes.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		L1Hits: atomic.LoadInt64(&c.l1Hits),
		L2Hits: atomic.LoadInt64(&c.l2Hits),
		L3Hits: atomic.LoadInt64(&c.l3Hits),
		Misses: atomic.LoadInt64(&c.misses),
		L1Size: c.l1.size(),
	}
	if c.l2 != nil {
		if size, err := c.l2.size(ctx); err == nil {
			s.L2Size = size
		}
	}
	if c.l3 != nil {
		if size, err := c.l3.size(ctx); err == nil {
			s.L3Size = size
		}
	}
	total := s.L1Hits + s.L2Hits + s.L3Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.L1Hits+s.L2Hits+s.L3Hits) / float64(total)
	}
	return s
}

// Close waits for in-flight async writes and closes the redis client.
func (c *Cache) Close() error {
	c.writeWG.Wait()
	if c.l2 != nil {
		return c.l2.close()
	}
	return nil
}

func isLongTTL(key string) bool {
	for _, prefix := range longTTLPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
