// Package youtube scrapes YouTube result pages directly, without any API
// key. It is the fallback tier behind the aggregator pool: slower and more
// fragile, but independent of third-party instances.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"retmusic/searchservice/internal/domain"
)

const (
	defaultSuggestEndpoint = "https://suggestqueries.google.com/complete/search"
	defaultSearchEndpoint  = "https://www.youtube.com/results"
	defaultPerCallTimeout  = 15 * time.Second
	maxPageBytes           = 8 * 1024 * 1024
	perSuggestionCap       = 3
)

// Rotated between requests so repeated scrapes do not present one fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
}

var jsonpBodyPattern = regexp.MustCompile(`(?s)\[(.*)\]`)

type Config struct {
	SuggestEndpoint string
	SearchEndpoint  string
	Client          *http.Client
	PerCallTimeout  time.Duration
	Rand            *rand.Rand
	Logger          *slog.Logger
}

type Client struct {
	suggestEndpoint string
	searchEndpoint  string
	client          *http.Client
	perCallTimeout  time.Duration
	randMu          sync.Mutex
	rand            *rand.Rand
	logger          *slog.Logger
}

func NewClient(cfg Config) *Client {
	suggestEndpoint := strings.TrimSpace(cfg.SuggestEndpoint)
	if suggestEndpoint == "" {
		suggestEndpoint = defaultSuggestEndpoint
	}
	searchEndpoint := strings.TrimSpace(cfg.SearchEndpoint)
	if searchEndpoint == "" {
		searchEndpoint = defaultSearchEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	perCallTimeout := cfg.PerCallTimeout
	if perCallTimeout <= 0 {
		perCallTimeout = defaultPerCallTimeout
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		suggestEndpoint: suggestEndpoint,
		searchEndpoint:  searchEndpoint,
		client:          client,
		perCallTimeout:  perCallTimeout,
		rand:            rng,
		logger:          logger,
	}
}

func (c *Client) Name() string {
	return domain.TierLocalScrape
}

// Search resolves the query by fanning out over autocomplete suggestions,
// scraping a result page per suggestion. When the suggest endpoint yields
// nothing it scrapes the raw query directly. Failures produce an empty
// result, never an error: the terminal tier always has something to say.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.MediaRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	suggestions := c.Suggestions(ctx, query)
	if len(suggestions) == 0 {
		records := c.scrapePage(ctx, query, limit)
		return dedupeByID(records, limit), nil
	}

	perSuggestion := limit / len(suggestions)
	if perSuggestion > perSuggestionCap {
		perSuggestion = perSuggestionCap
	}
	if perSuggestion < 1 {
		perSuggestion = 1
	}

	collected := make([]domain.MediaRecord, 0, limit)
	for _, suggestion := range suggestions {
		if ctx.Err() != nil {
			break
		}
		collected = append(collected, c.scrapePage(ctx, suggestion, perSuggestion)...)
		if len(collected) >= limit {
			break
		}
	}
	if len(collected) == 0 {
		collected = c.scrapePage(ctx, query, limit)
	}
	return dedupeByID(collected, limit), nil
}

// Suggestions queries the autocomplete endpoint and parses its JSONP payload.
// Errors are logged and swallowed.
func (c *Client) Suggestions(ctx context.Context, query string) []string {
	callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
	defer cancel()

	endpoint := c.suggestEndpoint + "?" + url.Values{
		"client": {"youtube"},
		"ds":     {"yt"},
		"q":      {query},
	}.Encode()

	payload, err := c.fetch(callCtx, endpoint, "application/json, text/javascript")
	if err != nil {
		c.logger.Debug("suggestion fetch failed", slog.String("error", err.Error()))
		return nil
	}

	suggestions, err := parseSuggestPayload(string(payload))
	if err != nil {
		c.logger.Debug("suggestion parse failed", slog.String("error", err.Error()))
		return nil
	}
	return suggestions
}

// parseSuggestPayload unwraps the JSONP callback around a suggest response.
// The payload decodes to [query, [[suggestion, ...], ...], ...].
func parseSuggestPayload(raw string) ([]string, error) {
	match := jsonpBodyPattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return nil, fmt.Errorf("no JSON array in suggest payload")
	}
	var data []any
	if err := json.Unmarshal([]byte("["+match[1]+"]"), &data); err != nil {
		return nil, fmt.Errorf("decode suggest payload: %w", err)
	}
	if len(data) < 2 {
		return nil, nil
	}
	entries, ok := data[1].([]any)
	if !ok {
		return nil, nil
	}
	suggestions := make([]string, 0, len(entries))
	for _, entry := range entries {
		pair, ok := entry.([]any)
		if !ok || len(pair) == 0 {
			continue
		}
		if text, ok := pair[0].(string); ok && strings.TrimSpace(text) != "" {
			suggestions = append(suggestions, text)
		}
	}
	return suggestions, nil
}

func (c *Client) scrapePage(ctx context.Context, query string, max int) []domain.MediaRecord {
	callCtx, cancel := context.WithTimeout(ctx, c.perCallTimeout)
	defer cancel()

	endpoint := c.searchEndpoint + "?" + url.Values{
		"search_query": {query},
	}.Encode()

	payload, err := c.fetch(callCtx, endpoint, "text/html,application/xhtml+xml")
	if err != nil {
		c.logger.Debug("result page fetch failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return nil
	}
	return ExtractRecords(string(payload), max)
}

func (c *Client) fetch(ctx context.Context, endpoint, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func (c *Client) userAgent() string {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return userAgents[c.rand.IntN(len(userAgents))]
}
