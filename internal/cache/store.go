// Package cache implements the durable result cache: one SQLite database
// holding cached search results, cached video details and per-query
// popularity counters.
//
// Store is safe for concurrent use. Each write is a single transaction, so
// readers never observe a partially written record sequence.
package cache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"retmusic/searchservice/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS search_cache (
	query_hash TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	results TEXT NOT NULL,
	source TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_cache_created ON search_cache(created_at DESC);

CREATE TABLE IF NOT EXISTS video_cache (
	video_id TEXT PRIMARY KEY,
	video_data TEXT NOT NULL,
	source TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS popular_searches (
	query TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_searched INTEGER NOT NULL
);
`

// Fingerprint returns the cache key for a query: the MD5 hex digest of the
// trimmed, case-folded query text. A Caser carries internal state, so one is
// created per call rather than shared.
func Fingerprint(query string) string {
	folded := cases.Fold().String(strings.TrimSpace(query))
	sum := md5.Sum([]byte(folded))
	return hex.EncodeToString(sum[:])
}

// Store persists search results, video details and popularity counters.
type Store struct {
	db     *sql.DB
	path   string
	mirror *RedisMirror
	now    func() time.Time
}

type Option func(*Store)

// WithRedisMirror places a shared Redis layer in front of the SQLite search
// table. The mirror is an accelerator only; SQLite remains the source of
// truth and Redis failures degrade silently to local reads.
func WithRedisMirror(mirror *RedisMirror) Option {
	return func(s *Store) {
		s.mirror = mirror
	}
}

// Open creates or opens the cache database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	store := &Store{
		db:   db,
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetSearch returns the cached record sequence for a query if an entry
// exists and is no older than maxAge. Expired entries are reported as
// absent; the underlying row is left in place.
func (s *Store) GetSearch(ctx context.Context, query string, maxAge time.Duration) ([]domain.MediaRecord, bool, error) {
	hash := Fingerprint(query)
	now := s.now()

	if s.mirror != nil {
		if entry, ok, err := s.mirror.GetSearch(ctx, hash); err == nil && ok {
			if now.Sub(entry.CreatedAt) <= maxAge {
				return entry.Results, true, nil
			}
		}
	}

	var (
		payload   string
		createdAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT results, created_at FROM search_cache WHERE query_hash = ?`, hash)
	if err := row.Scan(&payload, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read search cache: %w", err)
	}

	created := time.Unix(createdAt, 0)
	if now.Sub(created) > maxAge {
		return nil, false, nil
	}

	var records []domain.MediaRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, false, fmt.Errorf("decode cached results: %w", err)
	}
	return records, true, nil
}

// PutSearch replaces the cache entry for the query's fingerprint and bumps
// the popularity counter for the exact query text, all in one transaction.
func (s *Store) PutSearch(ctx context.Context, query string, records []domain.MediaRecord, source string) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	hash := Fingerprint(query)
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_cache (query_hash, query, results, source, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		hash, query, string(payload), source, now.Unix(),
	); err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO popular_searches (query, count, last_searched) VALUES (?, 1, ?)
		 ON CONFLICT(query) DO UPDATE SET count = count + 1, last_searched = excluded.last_searched`,
		query, now.Unix(),
	); err != nil {
		return fmt.Errorf("track popular search: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache write: %w", err)
	}

	if s.mirror != nil {
		_ = s.mirror.SetSearch(ctx, hash, SearchEntry{
			Query:     query,
			Results:   records,
			Source:    source,
			CreatedAt: now,
		})
	}
	return nil
}

// PopularQueries returns up to limit query strings ordered by search count
// descending, most recently searched first on equal counts.
func (s *Store) PopularQueries(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM popular_searches ORDER BY count DESC, last_searched DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read popular searches: %w", err)
	}
	defer rows.Close()

	queries := make([]string, 0, limit)
	for rows.Next() {
		var query string
		if err := rows.Scan(&query); err != nil {
			return nil, fmt.Errorf("scan popular search: %w", err)
		}
		queries = append(queries, query)
	}
	return queries, rows.Err()
}

// GetVideo returns the cached detail record for a video id if present and
// no older than maxAge.
func (s *Store) GetVideo(ctx context.Context, id string, maxAge time.Duration) (domain.MediaRecord, bool, error) {
	var (
		payload   string
		createdAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT video_data, created_at FROM video_cache WHERE video_id = ?`, id)
	if err := row.Scan(&payload, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.MediaRecord{}, false, nil
		}
		return domain.MediaRecord{}, false, fmt.Errorf("read video cache: %w", err)
	}
	if s.now().Sub(time.Unix(createdAt, 0)) > maxAge {
		return domain.MediaRecord{}, false, nil
	}
	var record domain.MediaRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return domain.MediaRecord{}, false, fmt.Errorf("decode cached video: %w", err)
	}
	return record, true, nil
}

// PutVideo replaces the cached detail record for record.ID.
func (s *Store) PutVideo(ctx context.Context, record domain.MediaRecord, source string) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("video record has no id")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode video record: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO video_cache (video_id, video_data, source, created_at)
		 VALUES (?, ?, ?, ?)`,
		record.ID, string(payload), source, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("write video cache: %w", err)
	}
	return nil
}

// Stats reports table counts, database size and the most recent search
// writes with their producing tier.
func (s *Store) Stats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{DatabaseFile: s.path}

	for _, item := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM search_cache", &stats.SearchEntries},
		{"SELECT COUNT(*) FROM video_cache", &stats.VideoEntries},
		{"SELECT COUNT(*) FROM popular_searches", &stats.TrackedQueries},
	} {
		if err := s.db.QueryRowContext(ctx, item.query).Scan(item.dest); err != nil {
			return domain.CacheStats{}, fmt.Errorf("count cache rows: %w", err)
		}
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseBytes = info.Size()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT query, source, created_at FROM search_cache ORDER BY created_at DESC LIMIT 10`)
	if err != nil {
		return domain.CacheStats{}, fmt.Errorf("read recent searches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			write     domain.RecentWrite
			createdAt int64
		)
		if err := rows.Scan(&write.Query, &write.Source, &createdAt); err != nil {
			return domain.CacheStats{}, fmt.Errorf("scan recent search: %w", err)
		}
		write.Timestamp = time.Unix(createdAt, 0).UTC()
		stats.RecentSearches = append(stats.RecentSearches, write)
	}
	return stats, rows.Err()
}
