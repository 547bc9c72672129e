package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tier is the shared-kv (L2) / durable (L3) storage contract. Both tiers
// store opaque msgpack blobs keyed by the same strings as L1.
type tier interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delete(ctx context.Context, key string) error
	deletePrefix(ctx context.Context, prefix string) error
	size(ctx context.Context) (int, error)
}

// redisTier is the optional L2: shared key-value storage. Expiry is
// delegated to redis itself.
type redisTier struct {
	client *redis.Client
	prefix string
}

func newRedisTier(addr string, db int) *redisTier {
	return &redisTier{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		}),
		prefix: "stockpilot:",
	}
}

func (t *redisTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

func (t *redisTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.client.Set(ctx, t.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (t *redisTier) delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.prefix+key).Err()
}

func (t *redisTier) deletePrefix(ctx context.Context, prefix string) error {
	iter := t.client.Scan(ctx, 0, t.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete by prefix: %w", err)
		}
	}
	return iter.Err()
}

func (t *redisTier) size(ctx context.Context) (int, error) {
	count := 0
	iter := t.client.Scan(ctx, 0, t.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (t *redisTier) close() error {
	return t.client.Close()
}

// sqliteTier is the optional L3: durable storage with per-entry expiry.
type sqliteTier struct {
	db *sql.DB
}

func newSQLiteTier(db *sql.DB) *sqliteTier {
	return &sqliteTier{db: db}
}

func (t *sqliteTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := t.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("disk cache get: %w", err)
	}
	if time.Now().UnixMilli() > expiresAt {
		// Expired entries are misses; delete lazily.
		_, _ = t.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
		return nil, false, nil
	}
	return value, true, nil
}

func (t *sqliteTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		     expires_at = excluded.expires_at, created_at = excluded.created_at`,
		key, value, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("disk cache set: %w", err)
	}
	return nil
}

func (t *sqliteTier) delete(ctx context.Context, key string) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	return err
}

func (t *sqliteTier) deletePrefix(ctx context.Context, prefix string) error {
	_, err := t.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\\'", likePattern(prefix))
	return err
}

func (t *sqliteTier) size(ctx context.Context) (int, error) {
	var count int
	err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&count)
	return count, err
}

// purgeExpired drops expired rows. Returns the number removed.
func (t *sqliteTier) purgeExpired(ctx context.Context) (int, error) {
	res, err := t.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at < ?", time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("disk cache purge: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// likePattern escapes LIKE metacharacters in prefix and appends the wildcard.
func likePattern(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+4)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}
