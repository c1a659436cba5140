package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"retmusic/searchservice/internal/cache"
	"retmusic/searchservice/internal/domain"
	"retmusic/searchservice/internal/suggest"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	name    string
	records []domain.MediaRecord
	err     error
	calls   atomic.Int64
	gotLim  atomic.Int64
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(_ context.Context, _ string, limit int) ([]domain.MediaRecord, error) {
	f.calls.Add(1)
	f.gotLim.Store(int64(limit))
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeStore struct {
	searches   map[string][]domain.MediaRecord
	videos     map[string]domain.MediaRecord
	lastSource string
	putCalls   int
	getErr     error
	putErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		searches: make(map[string][]domain.MediaRecord),
		videos:   make(map[string]domain.MediaRecord),
	}
}

func (f *fakeStore) GetSearch(_ context.Context, query string, _ time.Duration) ([]domain.MediaRecord, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	records, ok := f.searches[query]
	return records, ok, nil
}

func (f *fakeStore) PutSearch(_ context.Context, query string, records []domain.MediaRecord, source string) error {
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	f.searches[query] = records
	f.lastSource = source
	return nil
}

func (f *fakeStore) GetVideo(_ context.Context, id string, _ time.Duration) (domain.MediaRecord, bool, error) {
	record, ok := f.videos[id]
	return record, ok, nil
}

func (f *fakeStore) PutVideo(_ context.Context, record domain.MediaRecord, _ string) error {
	f.videos[record.ID] = record
	return nil
}

func (f *fakeStore) PopularQueries(_ context.Context, _ int) ([]string, error) {
	return []string{"bohemian rhapsody", "rock classics", "lofi beats"}, nil
}

func (f *fakeStore) Stats(_ context.Context) (domain.CacheStats, error) {
	return domain.CacheStats{SearchEntries: len(f.searches)}, nil
}

type fakeVideos struct {
	record domain.MediaRecord
	err    error
}

func (f *fakeVideos) VideoInfo(_ context.Context, id string) (domain.MediaRecord, error) {
	if f.err != nil {
		return domain.MediaRecord{}, f.err
	}
	record := f.record
	record.ID = id
	return record, nil
}

func someRecords(n int) []domain.MediaRecord {
	records := make([]domain.MediaRecord, n)
	for i := range records {
		records[i] = domain.MediaRecord{ID: string(rune('a'+i%26)) + "0000000000", Title: "Track"}
	}
	return records
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolveRejectsEmptyQuery(t *testing.T) {
	resolver := NewResolver(Config{Store: newFakeStore()})
	if _, err := resolver.Resolve(context.Background(), "   ", 10); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestResolveCacheHitSkipsSources(t *testing.T) {
	store := newFakeStore()
	store.searches["queen"] = someRecords(3)
	source := &fakeSource{name: domain.TierAggregator, records: someRecords(5)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{source}})
	response, err := resolver.Resolve(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if response.Source != domain.TierCache {
		t.Errorf("Source = %q, want %q", response.Source, domain.TierCache)
	}
	if response.Count != 3 || len(response.Results) != 3 {
		t.Errorf("Count = %d, Results = %d", response.Count, len(response.Results))
	}
	if source.calls.Load() != 0 {
		t.Error("live source was consulted despite a cache hit")
	}
	if store.putCalls != 0 {
		t.Error("cache hit triggered a writeback")
	}
}

func TestResolveFirstTierWinsAndWritesBack(t *testing.T) {
	store := newFakeStore()
	first := &fakeSource{name: domain.TierAggregator, records: someRecords(4)}
	second := &fakeSource{name: domain.TierLocalScrape, records: someRecords(4)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{first, second}})
	response, err := resolver.Resolve(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if response.Source != domain.TierAggregator {
		t.Errorf("Source = %q", response.Source)
	}
	if second.calls.Load() != 0 {
		t.Error("later tier consulted after an earlier tier answered")
	}
	if store.lastSource != domain.TierAggregator {
		t.Errorf("writeback source = %q", store.lastSource)
	}
	if _, ok := store.searches["queen"]; !ok {
		t.Error("winning results were not written back")
	}
}

func TestResolveFallsThroughFailingAndEmptyTiers(t *testing.T) {
	store := newFakeStore()
	broken := &fakeSource{name: domain.TierAggregator, err: errors.New("pool exhausted")}
	empty := &fakeSource{name: domain.TierLocalScrape}
	terminal := &fakeSource{name: domain.TierSuggestions, records: someRecords(2)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{broken, empty, terminal}})
	response, err := resolver.Resolve(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if response.Source != domain.TierSuggestions {
		t.Errorf("Source = %q, want %q", response.Source, domain.TierSuggestions)
	}
	if broken.calls.Load() != 1 || empty.calls.Load() != 1 {
		t.Error("earlier tiers were not tried in order")
	}
	if store.lastSource != domain.TierSuggestions {
		t.Errorf("writeback source = %q", store.lastSource)
	}
}

func TestResolveClampsLimit(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{name: domain.TierAggregator, records: someRecords(60)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{source}})
	response, err := resolver.Resolve(context.Background(), "queen", 500)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if source.gotLim.Load() != maxLimit {
		t.Errorf("source saw limit %d, want %d", source.gotLim.Load(), maxLimit)
	}
	if len(response.Results) != maxLimit {
		t.Errorf("got %d results, want clamped %d", len(response.Results), maxLimit)
	}

	// Zero limit falls back to the default.
	source2 := &fakeSource{name: domain.TierAggregator, records: someRecords(60)}
	resolver = NewResolver(Config{Store: newFakeStore(), Sources: []Source{source2}})
	if _, err := resolver.Resolve(context.Background(), "other", 0); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if source2.gotLim.Load() != defaultLimit {
		t.Errorf("source saw limit %d, want %d", source2.gotLim.Load(), defaultLimit)
	}
}

func TestResolveCacheErrorFallsThrough(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("database is locked")
	source := &fakeSource{name: domain.TierAggregator, records: someRecords(2)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{source}})
	response, err := resolver.Resolve(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("a cache failure must not fail the search: %v", err)
	}
	if response.Source != domain.TierAggregator {
		t.Errorf("Source = %q", response.Source)
	}
}

func TestResolveCacheDisabled(t *testing.T) {
	store := newFakeStore()
	store.searches["queen"] = someRecords(3)
	source := &fakeSource{name: domain.TierAggregator, records: someRecords(2)}

	resolver := NewResolver(Config{Store: store, Sources: []Source{source}, CacheDisabled: true})
	response, err := resolver.Resolve(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if response.Source != domain.TierAggregator {
		t.Errorf("Source = %q, want the live tier when the cache is disabled", response.Source)
	}
	if store.putCalls != 0 {
		t.Error("writeback happened with the cache disabled")
	}
}

// ---------------------------------------------------------------------------
// VideoInfo
// ---------------------------------------------------------------------------

func TestVideoInfoTiers(t *testing.T) {
	store := newFakeStore()
	store.videos["cached000000"] = domain.MediaRecord{ID: "cached000000", Title: "From Cache"}
	videos := &fakeVideos{record: domain.MediaRecord{Title: "From Pool", Author: "Queen"}}

	resolver := NewResolver(Config{Store: store, Videos: videos})

	record, err := resolver.VideoInfo(context.Background(), "cached000000")
	if err != nil || record.Title != "From Cache" {
		t.Errorf("cached lookup = %+v, %v", record, err)
	}

	record, err = resolver.VideoInfo(context.Background(), "fJ9rUzIMcZQ")
	if err != nil || record.Title != "From Pool" {
		t.Errorf("pool lookup = %+v, %v", record, err)
	}
	if _, ok := store.videos["fJ9rUzIMcZQ"]; !ok {
		t.Error("pool result was not cached")
	}

	if _, err := resolver.VideoInfo(context.Background(), ""); !errors.Is(err, ErrInvalidVideoID) {
		t.Errorf("err = %v, want ErrInvalidVideoID", err)
	}
}

func TestVideoInfoPlaceholder(t *testing.T) {
	videos := &fakeVideos{err: errors.New("no instance answered")}
	resolver := NewResolver(Config{Store: newFakeStore(), Videos: videos})

	record, err := resolver.VideoInfo(context.Background(), "ghost0000000")
	if err != nil {
		t.Fatalf("VideoInfo: %v", err)
	}
	if record.Title != placeholderTitle || record.ID != "ghost0000000" {
		t.Errorf("placeholder = %+v", record)
	}
}

// ---------------------------------------------------------------------------
// Query suggestions
// ---------------------------------------------------------------------------

func TestQuerySuggestions(t *testing.T) {
	resolver := NewResolver(Config{Store: newFakeStore()})

	got, err := resolver.QuerySuggestions(context.Background(), "rock", 10)
	if err != nil {
		t.Fatalf("QuerySuggestions: %v", err)
	}
	wantSome := map[string]bool{
		"rock classics":   false, // popular search containing the text
		"rock rock":       false, // query + matching genre
		"best rock songs": false,
	}
	for _, suggestion := range got {
		if _, ok := wantSome[suggestion]; ok {
			wantSome[suggestion] = true
		}
	}
	for suggestion, found := range wantSome {
		if !found {
			t.Errorf("missing suggestion %q in %v", suggestion, got)
		}
	}
	if len(got) > 10 {
		t.Errorf("got %d suggestions, want at most 10", len(got))
	}

	if _, err := resolver.QuerySuggestions(context.Background(), " ", 10); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("err = %v, want ErrInvalidQuery", err)
	}
}

// ---------------------------------------------------------------------------
// Full pipeline against the real store
// ---------------------------------------------------------------------------

func TestResolveEndToEndWithSuggestionFallback(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()

	// Both network tiers are down; the terminal tier must still answer.
	aggregator := &fakeSource{name: domain.TierAggregator}
	scraper := &fakeSource{name: domain.TierLocalScrape}
	generator := suggest.NewGenerator()

	resolver := NewResolver(Config{
		Store:   store,
		Sources: []Source{aggregator, scraper, generator},
	})

	response, err := resolver.Resolve(context.Background(), "bohemian rhapsody", 5)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if response.Source != domain.TierSuggestions {
		t.Errorf("Source = %q, want %q", response.Source, domain.TierSuggestions)
	}
	if response.Count == 0 || response.Count > 5 {
		t.Errorf("Count = %d, want 1..5", response.Count)
	}

	// The second identical search is served from the cache.
	response, err = resolver.Resolve(context.Background(), "bohemian rhapsody", 5)
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if response.Source != domain.TierCache {
		t.Errorf("second Source = %q, want %q", response.Source, domain.TierCache)
	}
	if aggregator.calls.Load() != 1 {
		t.Errorf("aggregator called %d times, want 1", aggregator.calls.Load())
	}

	popular, err := resolver.PopularQueries(context.Background(), 5)
	if err != nil {
		t.Fatalf("PopularQueries: %v", err)
	}
	if len(popular) != 1 || popular[0] != "bohemian rhapsody" {
		t.Errorf("popular = %v", popular)
	}
}
