package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"retmusic/searchservice/internal/domain"
	"retmusic/searchservice/internal/search"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type SearchResolver interface {
	Resolve(ctx context.Context, query string, limit int) (domain.SearchResponse, error)
	VideoInfo(ctx context.Context, id string) (domain.MediaRecord, error)
	PopularQueries(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context) (domain.CacheStats, error)
	QuerySuggestions(ctx context.Context, query string, limit int) ([]string, error)
}

type InstanceDiagnostics interface {
	Diagnostics() []domain.InstanceHealth
}

type Server struct {
	resolver  SearchResolver
	instances InstanceDiagnostics
	logger    *slog.Logger
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithInstanceDiagnostics(instances InstanceDiagnostics) ServerOption {
	return func(s *Server) {
		s.instances = instances
	}
}

func NewServer(resolver SearchResolver, options ...ServerOption) *Server {
	server := &Server{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/video/", s.handleVideo)
	mux.HandleFunc("/api/proxy", s.handleProxy)
	mux.HandleFunc("/api/popular", s.handlePopular)
	mux.HandleFunc("/api/suggestions/", s.handleSuggestions)
	mux.HandleFunc("/api/instances", s.handleInstances)
	mux.HandleFunc("/api/cache/stats", s.handleCacheStats)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "music-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, corsMiddleware(metricsMiddleware(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.resolver == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search resolver is not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	response, err := s.resolver.Resolve(r.Context(), query, limit)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.String("source", response.Source),
		slog.Int("count", response.Count),
		slog.Int64("elapsedMs", response.ElapsedMS),
	)
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/video/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	record, err := s.resolver.VideoInfo(r.Context(), id)
	if err != nil {
		if errors.Is(err, search.ErrInvalidVideoID) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "video lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parsePositiveInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	queries, err := s.resolver.PopularQueries(r.Context(), limit)
	if err != nil {
		s.logger.Warn("popular searches failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load popular searches")
		return
	}
	if queries == nil {
		queries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"popular_searches": queries,
		"count":            len(queries),
		"timestamp":        time.Now().UTC(),
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/suggestions/"), "/")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	suggestions, err := s.resolver.QuerySuggestions(r.Context(), query, 10)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Warn("suggestions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to build suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":       query,
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.instances == nil {
		writeJSON(w, http.StatusOK, map[string]any{"instances": []domain.InstanceHealth{}})
		return
	}
	items := s.instances.Diagnostics()
	if items == nil {
		items = []domain.InstanceHealth{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": items})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.resolver.Stats(r.Context())
	if err != nil {
		s.logger.Warn("cache stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load cache stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
