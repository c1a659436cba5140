package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "retmusic/searchservice/internal/api/http"
	"retmusic/searchservice/internal/app"
	"retmusic/searchservice/internal/cache"
	"retmusic/searchservice/internal/metrics"
	"retmusic/searchservice/internal/providers/invidious"
	"retmusic/searchservice/internal/providers/youtube"
	"retmusic/searchservice/internal/search"
	"retmusic/searchservice/internal/suggest"
	"retmusic/searchservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "music-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "music-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Int("invidiousInstances", len(cfg.InvidiousInstances)),
		slog.String("cachePath", cfg.CachePath),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
	)

	store, err := cache.Open(cfg.CachePath, buildStoreOptions(cfg, logger)...)
	if err != nil {
		logger.Error("cache open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	invidiousClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	scrapeClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	aggregator := invidious.NewProvider(invidious.Config{
		Instances: cfg.InvidiousInstances,
		UserAgent: cfg.UserAgent,
		Client:    invidiousClient,
		Logger:    logger,
	})
	scraper := youtube.NewClient(youtube.Config{
		SuggestEndpoint: cfg.SuggestEndpoint,
		SearchEndpoint:  cfg.ScrapeEndpoint,
		Client:          scrapeClient,
		Logger:          logger,
	})
	generator := suggest.NewGenerator()

	resolver := search.NewResolver(search.Config{
		Store:         store,
		Sources:       []search.Source{aggregator, scraper, generator},
		Videos:        aggregator,
		TTL:           cfg.CacheTTL,
		CacheDisabled: cfg.CacheDisabled,
		Logger:        logger,
	})

	handler := apihttp.NewServer(resolver,
		apihttp.WithLogger(logger),
		apihttp.WithInstanceDiagnostics(aggregator),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The media proxy streams large responses; rely on the proxy client
		// timeout instead of a server-level write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("music search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("music search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildStoreOptions(cfg app.Config, logger *slog.Logger) []cache.Option {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if cfg.CacheDisabled || redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using local cache only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	mirror := cache.NewRedisMirror(client, cfg.CacheTTL)
	if err := mirror.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using local cache only", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return []cache.Option{cache.WithRedisMirror(mirror)}
}
