// Package invidious queries a rotating pool of Invidious API instances.
// Public instances come and go, so the provider shuffles the pool on every
// search, takes the first instance that answers, and temporarily blocks
// instances that keep failing.
package invidious

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"retmusic/searchservice/internal/domain"
	"retmusic/searchservice/internal/metrics"
)

const (
	defaultUserAgent      = "ret-music-search/1.0"
	defaultPerCallTimeout = 5 * time.Second
	maxDescriptionLength  = 200
	maxResponseBytes      = 4 * 1024 * 1024

	instanceFailureThreshold = 3
	instanceBlockBase        = 2 * time.Minute
	instanceBlockMax         = 15 * time.Minute
)

// DefaultInstances mirrors the well-known public pool. Override with
// INVIDIOUS_INSTANCES in production.
var DefaultInstances = []string{
	"https://invidious.fdn.fr",
	"https://inv.nadeko.net",
	"https://invidious.nerdvpn.de",
	"https://yewtu.be",
	"https://invidious.privacyredirect.com",
}

type Config struct {
	Instances      []string
	UserAgent      string
	Client         *http.Client
	PerCallTimeout time.Duration
	Rand           *rand.Rand
	Logger         *slog.Logger
}

type Provider struct {
	client         *http.Client
	instances      []string
	userAgent      string
	perCallTimeout time.Duration
	rand           *rand.Rand
	logger         *slog.Logger

	mu     sync.Mutex
	health map[string]*instanceHealth
	now    func() time.Time
}

type instanceHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
}

// apiVideo is the wire shape of one item in an Invidious /api/v1/search
// response.
type apiVideo struct {
	VideoID         string `json:"videoId"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	LengthSeconds   int    `json:"lengthSeconds"`
	ViewCount       int64  `json:"viewCount"`
	Published       int64  `json:"published"`
	Description     string `json:"description"`
	VideoThumbnails []struct {
		URL     string `json:"url"`
		Quality string `json:"quality"`
	} `json:"videoThumbnails"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	instances := normalizeInstances(cfg.Instances)
	if len(instances) == 0 {
		instances = append([]string(nil), DefaultInstances...)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
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
	return &Provider{
		client:         client,
		instances:      instances,
		userAgent:      userAgent,
		perCallTimeout: perCallTimeout,
		rand:           rng,
		logger:         logger,
		health:         make(map[string]*instanceHealth),
		now:            time.Now,
	}
}

func (p *Provider) Name() string {
	return domain.TierAggregator
}

// Search tries instances in a fresh random order and returns the answer of
// the first one with a parseable payload, even when that answer is empty.
// Exhausting the pool is not an error: the next tier takes over.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]domain.MediaRecord, error) {
	for _, instance := range p.shuffledInstances() {
		if blocked, until := p.isBlocked(instance); blocked {
			p.logger.Debug("instance blocked, skipping",
				slog.String("instance", instance),
				slog.Time("blocked_until", until))
			continue
		}
		records, err := p.searchInstance(ctx, instance, query, limit)
		if err != nil {
			p.logger.Debug("instance search failed",
				slog.String("instance", instance),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return records, nil
	}
	return []domain.MediaRecord{}, nil
}

// VideoInfo fetches detail metadata for one video id, rotating instances the
// same way Search does.
func (p *Provider) VideoInfo(ctx context.Context, id string) (domain.MediaRecord, error) {
	for _, instance := range p.shuffledInstances() {
		if blocked, _ := p.isBlocked(instance); blocked {
			continue
		}
		record, err := p.fetchVideo(ctx, instance, id)
		if err != nil {
			p.logger.Debug("instance video lookup failed",
				slog.String("instance", instance),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return domain.MediaRecord{}, ctx.Err()
			}
			continue
		}
		return record, nil
	}
	return domain.MediaRecord{}, fmt.Errorf("no instance answered for video %s", id)
}

func (p *Provider) searchInstance(ctx context.Context, instance, query string, limit int) ([]domain.MediaRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.perCallTimeout)
	defer cancel()

	endpoint := instance + "/api/v1/search?" + url.Values{
		"q":       {query},
		"type":    {"video"},
		"sort_by": {"relevance"},
	}.Encode()

	start := p.now()
	payload, err := p.fetchJSON(callCtx, endpoint)
	var items []apiVideo
	if err == nil {
		if decodeErr := json.Unmarshal(payload, &items); decodeErr != nil {
			err = fmt.Errorf("decode search response: %w", decodeErr)
		}
	}
	// An undecodable 200 counts against the instance like a transport failure.
	p.recordResult(instance, err, p.now().Sub(start))
	if err != nil {
		return nil, err
	}

	records := make([]domain.MediaRecord, 0, len(items))
	for _, item := range items {
		record, ok := mapVideo(item)
		if !ok {
			continue
		}
		records = append(records, record)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (p *Provider) fetchVideo(ctx context.Context, instance, id string) (domain.MediaRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.perCallTimeout)
	defer cancel()

	endpoint := instance + "/api/v1/videos/" + url.PathEscape(id)
	start := p.now()
	payload, err := p.fetchJSON(callCtx, endpoint)
	var item apiVideo
	if err == nil {
		if decodeErr := json.Unmarshal(payload, &item); decodeErr != nil {
			err = fmt.Errorf("decode video response: %w", decodeErr)
		}
	}
	p.recordResult(instance, err, p.now().Sub(start))
	if err != nil {
		return domain.MediaRecord{}, err
	}
	if item.VideoID == "" {
		item.VideoID = id
	}
	record, ok := mapVideo(item)
	if !ok {
		return domain.MediaRecord{}, errors.New("video response missing id")
	}
	return record, nil
}

func (p *Provider) fetchJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instance HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func mapVideo(item apiVideo) (domain.MediaRecord, bool) {
	id := strings.TrimSpace(item.VideoID)
	if id == "" {
		return domain.MediaRecord{}, false
	}
	description := item.Description
	if runes := []rune(description); len(runes) > maxDescriptionLength {
		description = string(runes[:maxDescriptionLength])
	}
	record := domain.MediaRecord{
		ID:              id,
		Title:           strings.TrimSpace(item.Title),
		Author:          strings.TrimSpace(item.Author),
		DurationSeconds: item.LengthSeconds,
		ViewCount:       item.ViewCount,
		PublishedEpoch:  item.Published,
		Description:     description,
	}
	for _, thumb := range item.VideoThumbnails {
		if strings.TrimSpace(thumb.URL) == "" {
			continue
		}
		record.Thumbnails = append(record.Thumbnails, domain.Thumbnail{
			URL:     thumb.URL,
			Quality: thumb.Quality,
		})
	}
	record.EnsureThumbnail()
	return record, true
}

func (p *Provider) shuffledInstances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	order := append([]string(nil), p.instances...)
	p.rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// ---------------------------------------------------------------------------
// Instance health tracking
// ---------------------------------------------------------------------------

func (p *Provider) isBlocked(instance string) (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.health[instance]
	if state == nil {
		return false, time.Time{}
	}
	now := p.now()
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}
	}
	return true, state.blockedUntil
}

func (p *Provider) recordResult(instance string, err error, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.health[instance]
	if state == nil {
		state = &instanceHealth{}
		p.health[instance] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
		metrics.InstanceRequestDuration.WithLabelValues(instance).Observe(latency.Seconds())
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = p.now()
		metrics.InstanceRequestsTotal.WithLabelValues(instance, "ok").Inc()
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastError = err.Error()
	metrics.InstanceRequestsTotal.WithLabelValues(instance, "error").Inc()

	if state.consecutiveFailures >= instanceFailureThreshold {
		state.blockedUntil = p.now().Add(blockDuration(state.consecutiveFailures))
	}
}

// blockDuration grows the block exponentially with consecutive failures
// past the threshold, capped at instanceBlockMax.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - instanceFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := instanceBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > instanceBlockMax {
			return instanceBlockMax
		}
	}
	return d
}

// Diagnostics reports per-instance health, sorted by instance URL.
func (p *Provider) Diagnostics() []domain.InstanceHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := make([]domain.InstanceHealth, 0, len(p.instances))
	for _, instance := range p.instances {
		item := domain.InstanceHealth{Instance: instance}
		if state := p.health[instance]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() && p.now().Before(state.blockedUntil) {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Instance < items[j].Instance
	})
	return items
}

func normalizeInstances(raw []string) []string {
	items := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, value := range raw {
		instance := strings.TrimRight(strings.TrimSpace(value), "/")
		if instance == "" {
			continue
		}
		if _, exists := seen[instance]; exists {
			continue
		}
		seen[instance] = struct{}{}
		items = append(items, instance)
	}
	return items
}
