package invidious

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"retmusic/searchservice/internal/domain"
)

func seededRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

const searchBody = `[
	{"videoId": "fJ9rUzIMcZQ", "title": "Bohemian Rhapsody", "author": "Queen",
	 "lengthSeconds": 355, "viewCount": 1900000000, "published": 1217462400,
	 "description": "Official video",
	 "videoThumbnails": [{"url": "https://example.com/t.jpg", "quality": "medium"}]},
	{"videoId": "", "title": "dropped: no id"},
	{"videoId": "dQw4w9WgXcQ", "title": "Never Gonna Give You Up", "author": "Rick Astley",
	 "lengthSeconds": 212, "viewCount": 1500000000}
]`

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchMapsRecords(t *testing.T) {
	server := httptest.NewServer(jsonHandler(searchBody))
	defer server.Close()

	provider := NewProvider(Config{
		Instances: []string{server.URL},
		Rand:      seededRand(),
	})

	records, err := provider.Search(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (item without id dropped)", len(records))
	}
	first := records[0]
	if first.ID != "fJ9rUzIMcZQ" || first.Title != "Bohemian Rhapsody" || first.DurationSeconds != 355 {
		t.Errorf("first record = %+v", first)
	}
	if len(first.Thumbnails) != 1 || first.Thumbnails[0].URL != "https://example.com/t.jpg" {
		t.Errorf("thumbnails = %+v", first.Thumbnails)
	}
	// Records without thumbnails get the derived fallback URL.
	second := records[1]
	if len(second.Thumbnails) != 1 || second.Thumbnails[0].URL != domain.DefaultThumbnailURL("dQw4w9WgXcQ") {
		t.Errorf("fallback thumbnail = %+v", second.Thumbnails)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	server := httptest.NewServer(jsonHandler(searchBody))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	records, err := provider.Search(context.Background(), "queen", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestSearchRotatesPastFailingInstance(t *testing.T) {
	var failingCalls, healthyCalls atomic.Int64

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		failingCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		jsonHandler(searchBody)(w, r)
	}))
	defer healthy.Close()

	provider := NewProvider(Config{
		Instances: []string{failing.URL, healthy.URL},
		Rand:      seededRand(),
	})

	records, err := provider.Search(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("no records despite one healthy instance in the pool")
	}
	if healthyCalls.Load() != 1 {
		t.Errorf("healthy instance called %d times, want 1", healthyCalls.Load())
	}
}

func TestSearchAllInstancesDownReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	records, err := provider.Search(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("exhausted pool must not be an error, got %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("got %v, want empty non-nil slice", records)
	}
}

func TestSearchBlocksInstanceAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	for i := 0; i < instanceFailureThreshold; i++ {
		provider.Search(context.Background(), "queen", 10)
	}
	before := calls.Load()

	// The instance is now blocked; further searches skip it entirely.
	provider.Search(context.Background(), "queen", 10)
	if calls.Load() != before {
		t.Errorf("blocked instance still received requests (%d -> %d)", before, calls.Load())
	}

	diags := provider.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics entries, want 1", len(diags))
	}
	if diags[0].BlockedUntil == nil {
		t.Error("diagnostics missing BlockedUntil for a blocked instance")
	}
	if diags[0].ConsecutiveFailures < instanceFailureThreshold {
		t.Errorf("ConsecutiveFailures = %d", diags[0].ConsecutiveFailures)
	}
}

func TestSearchStopsOnAuthoritativeEmptyAnswer(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonHandler(`[]`)(w, r)
	})
	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	provider := NewProvider(Config{
		Instances: []string{first.URL, second.URL},
		Rand:      seededRand(),
	})

	records, err := provider.Search(context.Background(), "obscure query", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
	// A parseable empty answer is final; the rest of the pool is not asked.
	if calls.Load() != 1 {
		t.Errorf("pool received %d requests, want 1", calls.Load())
	}
}

func TestSearchBlocksInstanceServingGarbage(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`<!doctype html><p>not json</p>`))
	}))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	for i := 0; i < instanceFailureThreshold; i++ {
		if records, err := provider.Search(context.Background(), "queen", 10); err != nil || len(records) != 0 {
			t.Fatalf("Search = (%v, %v), want empty and nil", records, err)
		}
	}
	before := calls.Load()

	// Undecodable 200s count as failures, so the instance is now blocked.
	provider.Search(context.Background(), "queen", 10)
	if calls.Load() != before {
		t.Errorf("blocked instance still received requests (%d -> %d)", before, calls.Load())
	}

	diags := provider.Diagnostics()
	if len(diags) != 1 || diags[0].ConsecutiveFailures < instanceFailureThreshold {
		t.Errorf("diagnostics = %+v", diags)
	}
}

func TestBlockDurationGrowsAndCaps(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{instanceFailureThreshold, instanceBlockBase},
		{instanceFailureThreshold + 1, 2 * instanceBlockBase},
		{instanceFailureThreshold + 2, 4 * instanceBlockBase},
		{instanceFailureThreshold + 10, instanceBlockMax},
	}
	for _, tc := range cases {
		if got := blockDuration(tc.failures); got != tc.want {
			t.Errorf("blockDuration(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// VideoInfo
// ---------------------------------------------------------------------------

func TestVideoInfo(t *testing.T) {
	server := httptest.NewServer(jsonHandler(`{
		"videoId": "fJ9rUzIMcZQ", "title": "Bohemian Rhapsody",
		"author": "Queen", "lengthSeconds": 355, "viewCount": 1900000000
	}`))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	record, err := provider.VideoInfo(context.Background(), "fJ9rUzIMcZQ")
	if err != nil {
		t.Fatalf("VideoInfo: %v", err)
	}
	if record.Title != "Bohemian Rhapsody" || record.DurationSeconds != 355 {
		t.Errorf("record = %+v", record)
	}
}

func TestVideoInfoAllInstancesDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewProvider(Config{Instances: []string{server.URL}, Rand: seededRand()})
	if _, err := provider.VideoInfo(context.Background(), "fJ9rUzIMcZQ"); err == nil {
		t.Error("VideoInfo must report an error when no instance answers")
	}
}

func TestMapVideoTruncatesDescriptionByRunes(t *testing.T) {
	item := apiVideo{
		VideoID:     "dQw4w9WgXcQ",
		Title:       "Never Gonna Give You Up",
		Description: strings.Repeat("é", maxDescriptionLength+50),
	}
	record, ok := mapVideo(item)
	if !ok {
		t.Fatal("mapVideo rejected a valid item")
	}
	if got := utf8.RuneCountInString(record.Description); got != maxDescriptionLength {
		t.Errorf("description rune count = %d, want %d", got, maxDescriptionLength)
	}
	if !utf8.ValidString(record.Description) {
		t.Error("truncated description is not valid UTF-8")
	}
}

func TestNormalizeInstances(t *testing.T) {
	got := normalizeInstances([]string{" https://a.example/ ", "", "https://a.example", "https://b.example"})
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("normalizeInstances = %v", got)
	}
}
