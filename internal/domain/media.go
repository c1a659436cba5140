package domain

import "time"

// Tier names, in resolution order. The first tier producing a non-empty
// result wins and labels the response.
const (
	TierCache       = "cache"
	TierAggregator  = "invidious"
	TierLocalScrape = "local_scraping"
	TierSuggestions = "smart_suggestions"
)

// Thumbnail is one preview image for a media record.
type Thumbnail struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
}

// MediaRecord is a single playable-media entry. JSON field names follow the
// wire format the player frontend already speaks (Invidious-compatible).
type MediaRecord struct {
	ID              string      `json:"videoId"`
	Title           string      `json:"title"`
	Author          string      `json:"author"`
	DurationSeconds int         `json:"lengthSeconds"`
	ViewCount       int64       `json:"viewCount"`
	PublishedEpoch  int64       `json:"published"`
	Description     string      `json:"description"`
	Thumbnails      []Thumbnail `json:"videoThumbnails"`
}

// DefaultThumbnailURL derives a preview URL from a record id.
func DefaultThumbnailURL(id string) string {
	return "https://img.youtube.com/vi/" + id + "/mqdefault.jpg"
}

// EnsureThumbnail guarantees at least one thumbnail, synthesizing one from
// the record id when the source supplied none.
func (r *MediaRecord) EnsureThumbnail() {
	if len(r.Thumbnails) == 0 && r.ID != "" {
		r.Thumbnails = []Thumbnail{{URL: DefaultThumbnailURL(r.ID), Quality: "default"}}
	}
}

// SearchResponse is the resolver's answer for one query.
type SearchResponse struct {
	Query     string        `json:"query"`
	Results   []MediaRecord `json:"results"`
	Count     int           `json:"count"`
	Source    string        `json:"source"`
	ElapsedMS int64         `json:"elapsedMs"`
	Timestamp time.Time     `json:"timestamp"`
}

// RecentWrite is one recent search-cache write, newest first in listings.
type RecentWrite struct {
	Query     string    `json:"query"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheStats summarizes the state of the durable cache store.
type CacheStats struct {
	SearchEntries  int           `json:"search_cache_entries"`
	VideoEntries   int           `json:"video_cache_entries"`
	TrackedQueries int           `json:"popular_searches_tracked"`
	DatabaseFile   string        `json:"database_file"`
	DatabaseBytes  int64         `json:"database_size_bytes"`
	RecentSearches []RecentWrite `json:"recent_searches"`
}

// InstanceHealth reports the circuit-breaker state of one aggregator
// instance.
type InstanceHealth struct {
	Instance            string     `json:"instance"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
}
