package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// liveClause filters out rows whose expiry has passed. Expired rows stay on
// disk until PurgeExpired runs, but are never observable through the Store.
const liveClause = `(expires_at IS NULL OR expires_at > NOW())`

type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by the kv_entries and kv_sorted tables.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND `+liveClause, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *PgStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, `+expiryExpr(3)+`)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_sorted WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete sorted %q: %w", key, err)
	}
	return nil
}

func (s *PgStore) ZAdd(ctx context.Context, key string, score int64, member string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_sorted (key, member, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, member) DO UPDATE
		SET score = EXCLUDED.score, expires_at = NULL`,
		key, member, score,
	)
	if err != nil {
		return fmt.Errorf("zadd %q: %w", key, err)
	}
	return nil
}

func (s *PgStore) ZRange(ctx context.Context, key string) ([]Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT member, score FROM kv_sorted
		WHERE key = $1 AND `+liveClause+`
		ORDER BY score ASC, member ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("zrange %q: %w", key, err)
	}
	return scanMembers(key, rows)
}

func scanMembers(key string, rows pgx.Rows) ([]Member, error) {
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Value, &m.Score); err != nil {
			return nil, fmt.Errorf("zrange %q: %w", key, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("zrange %q: %w", key, err)
	}
	return members, nil
}

func (s *PgStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM kv_sorted WHERE key = $1 AND member = ANY($2)`, key, members)
	if err != nil {
		return fmt.Errorf("zrem %q: %w", key, err)
	}
	return nil
}

func (s *PgStore) ZCard(ctx context.Context, key string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kv_sorted WHERE key = $1 AND `+liveClause, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("zcard %q: %w", key, err)
	}
	return n, nil
}

// Expire only touches live rows so that already-expired entries are not
// brought back to life.
func (s *PgStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ms := ttl.Milliseconds()
	if _, err := s.pool.Exec(ctx,
		`UPDATE kv_entries SET expires_at = `+expiryExpr(2)+` WHERE key = $1 AND `+liveClause,
		key, ms); err != nil {
		return fmt.Errorf("expire %q: %w", key, err)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE kv_sorted SET expires_at = `+expiryExpr(2)+` WHERE key = $1 AND `+liveClause,
		key, ms); err != nil {
		return fmt.Errorf("expire sorted %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed.
func (s *PgStore) PurgeExpired(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{"kv_entries", "kv_sorted"} {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM `+table+` WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// ---- helpers ----

// expiryExpr converts a millisecond ttl parameter into an absolute deadline
// computed by the database clock. A non-positive ttl yields NULL (no expiry).
func expiryExpr(param int) string {
	p := fmt.Sprintf("$%d::bigint", param)
	return `(CASE WHEN ` + p + ` > 0 THEN NOW() + ` + p + ` * INTERVAL '1 millisecond' END)`
}

// compile-time checks
var (
	_ Store  = (*PgStore)(nil)
	_ Purger = (*PgStore)(nil)
)
