// Package search drives the tiered resolution pipeline: cache, then each
// live source in order, then writeback of whichever tier produced results.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"retmusic/searchservice/internal/cache"
	"retmusic/searchservice/internal/domain"
	"retmusic/searchservice/internal/metrics"
)

var (
	ErrInvalidQuery   = errors.New("query must not be empty")
	ErrInvalidVideoID = errors.New("video id must not be empty")
)

const (
	defaultLimit = 20
	maxLimit     = 50

	placeholderTitle       = "Video Information Unavailable"
	placeholderDescription = "Video information could not be retrieved"
)

// autocompleteGenres feed the suggestion endpoint, not the result tiers.
var autocompleteGenres = []string{"rock", "pop", "jazz", "classical", "hip hop", "country", "electronic", "folk"}

// Source is one live resolution tier. Search returns an empty slice when the
// tier has nothing for the query; an error means the tier itself broke.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]domain.MediaRecord, error)
}

// VideoLookup fetches detail metadata for a single video id.
type VideoLookup interface {
	VideoInfo(ctx context.Context, id string) (domain.MediaRecord, error)
}

// Store is the durable cache consulted before and written after live tiers.
type Store interface {
	GetSearch(ctx context.Context, query string, maxAge time.Duration) ([]domain.MediaRecord, bool, error)
	PutSearch(ctx context.Context, query string, records []domain.MediaRecord, source string) error
	GetVideo(ctx context.Context, id string, maxAge time.Duration) (domain.MediaRecord, bool, error)
	PutVideo(ctx context.Context, record domain.MediaRecord, source string) error
	PopularQueries(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context) (domain.CacheStats, error)
}

type Config struct {
	Store         Store
	Sources       []Source
	Videos        VideoLookup
	TTL           time.Duration
	CacheDisabled bool
	Logger        *slog.Logger
}

type Resolver struct {
	store         Store
	sources       []Source
	videos        VideoLookup
	ttl           time.Duration
	cacheDisabled bool
	logger        *slog.Logger
	group         singleflight.Group
	now           func() time.Time
}

func NewResolver(cfg Config) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:         cfg.Store,
		sources:       cfg.Sources,
		videos:        cfg.Videos,
		ttl:           ttl,
		cacheDisabled: cfg.CacheDisabled,
		logger:        logger,
		now:           time.Now,
	}
}

// Resolve answers a search query from the first tier that produces results.
// Concurrent calls for the same query and limit are coalesced into one
// pipeline run.
func (r *Resolver) Resolve(ctx context.Context, query string, limit int) (domain.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SearchResponse{}, ErrInvalidQuery
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	key := cache.Fingerprint(query) + ":" + strconv.Itoa(limit)
	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, query, limit)
	})
	if err != nil {
		return domain.SearchResponse{}, err
	}
	return value.(domain.SearchResponse), nil
}

func (r *Resolver) resolve(ctx context.Context, query string, limit int) (domain.SearchResponse, error) {
	startedAt := r.now()

	if !r.cacheDisabled {
		records, ok, err := r.store.GetSearch(ctx, query, r.ttl)
		if err != nil {
			r.logger.Warn("cache read failed, falling through",
				slog.String("query", query),
				slog.String("error", err.Error()))
		}
		if ok {
			metrics.CacheHitsTotal.Inc()
			metrics.TierResultsTotal.WithLabelValues(domain.TierCache, "ok").Inc()
			return r.response(query, clampRecords(records, limit), domain.TierCache, startedAt), nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	for _, source := range r.sources {
		tier := source.Name()
		tierStart := r.now()
		records, err := source.Search(ctx, query, limit)
		metrics.TierDuration.WithLabelValues(tier).Observe(r.now().Sub(tierStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return domain.SearchResponse{}, ctx.Err()
			}
			metrics.TierResultsTotal.WithLabelValues(tier, "error").Inc()
			r.logger.Warn("tier failed",
				slog.String("tier", tier),
				slog.String("query", query),
				slog.String("error", err.Error()))
			continue
		}
		if len(records) == 0 {
			metrics.TierResultsTotal.WithLabelValues(tier, "empty").Inc()
			continue
		}
		metrics.TierResultsTotal.WithLabelValues(tier, "ok").Inc()

		records = clampRecords(records, limit)
		if !r.cacheDisabled {
			if err := r.store.PutSearch(ctx, query, records, tier); err != nil {
				r.logger.Warn("cache write failed",
					slog.String("query", query),
					slog.String("error", err.Error()))
			}
		}
		return r.response(query, records, tier, startedAt), nil
	}

	// Unreachable with the suggestion tier wired, kept for partial setups.
	return r.response(query, []domain.MediaRecord{}, "none", startedAt), nil
}

// VideoInfo resolves detail metadata for one id: cache, then the aggregator
// pool, then a stub record so callers always get a renderable shape.
func (r *Resolver) VideoInfo(ctx context.Context, id string) (domain.MediaRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.MediaRecord{}, ErrInvalidVideoID
	}

	if !r.cacheDisabled {
		record, ok, err := r.store.GetVideo(ctx, id, r.ttl)
		if err != nil {
			r.logger.Warn("video cache read failed", slog.String("error", err.Error()))
		}
		if ok {
			return record, nil
		}
	}

	if r.videos != nil {
		record, err := r.videos.VideoInfo(ctx, id)
		if err == nil {
			if !r.cacheDisabled {
				if err := r.store.PutVideo(ctx, record, domain.TierAggregator); err != nil {
					r.logger.Warn("video cache write failed", slog.String("error", err.Error()))
				}
			}
			return record, nil
		}
		if ctx.Err() != nil {
			return domain.MediaRecord{}, ctx.Err()
		}
		r.logger.Debug("video lookup failed", slog.String("id", id), slog.String("error", err.Error()))
	}

	return domain.MediaRecord{
		ID:          id,
		Title:       placeholderTitle,
		Author:      "Unknown",
		Description: placeholderDescription,
	}, nil
}

// PopularQueries returns the most searched queries.
func (r *Resolver) PopularQueries(ctx context.Context, limit int) ([]string, error) {
	return r.store.PopularQueries(ctx, limit)
}

// Stats reports cache statistics.
func (r *Resolver) Stats(ctx context.Context) (domain.CacheStats, error) {
	return r.store.Stats(ctx)
}

// QuerySuggestions builds autocomplete entries for a partial query: popular
// searches containing the text, then genre combinations, deduplicated and
// capped at limit.
func (r *Resolver) QuerySuggestions(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	if limit <= 0 {
		limit = 10
	}
	queryLower := strings.ToLower(query)

	popular, err := r.store.PopularQueries(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("load popular searches: %w", err)
	}

	suggestions := make([]string, 0, limit)
	for _, candidate := range popular {
		if strings.Contains(strings.ToLower(candidate), queryLower) {
			suggestions = append(suggestions, candidate)
		}
	}
	for _, genre := range autocompleteGenres {
		if strings.Contains(genre, queryLower) || strings.Contains(queryLower, genre) {
			suggestions = append(suggestions, query+" "+genre)
			suggestions = append(suggestions, "best "+genre+" songs")
		}
	}

	seen := make(map[string]struct{}, len(suggestions))
	unique := make([]string, 0, limit)
	for _, suggestion := range suggestions {
		if _, exists := seen[suggestion]; exists {
			continue
		}
		seen[suggestion] = struct{}{}
		unique = append(unique, suggestion)
		if len(unique) >= limit {
			break
		}
	}
	return unique, nil
}

func (r *Resolver) response(query string, records []domain.MediaRecord, source string, startedAt time.Time) domain.SearchResponse {
	return domain.SearchResponse{
		Query:     query,
		Results:   records,
		Count:     len(records),
		Source:    source,
		ElapsedMS: r.now().Sub(startedAt).Milliseconds(),
		Timestamp: r.now().UTC(),
	}
}

func clampRecords(records []domain.MediaRecord, limit int) []domain.MediaRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
