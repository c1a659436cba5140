package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	RequestTimeout     time.Duration
	LogLevel           string
	LogFormat          string
	UserAgent          string
	InvidiousInstances []string
	SuggestEndpoint    string
	ScrapeEndpoint     string
	CachePath          string
	CacheTTL           time.Duration
	CacheDisabled      bool
	RedisURL           string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		RequestTimeout:     time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:          getEnv("SEARCH_USER_AGENT", "ret-music-search/1.0"),
		InvidiousInstances: parseCSV(getEnv("INVIDIOUS_INSTANCES", "")),
		SuggestEndpoint:    getEnv("SUGGEST_ENDPOINT", ""),
		ScrapeEndpoint:     getEnv("SCRAPE_ENDPOINT", ""),
		CachePath:          getEnv("CACHE_PATH", "music_cache.db"),
		CacheTTL:           time.Duration(getEnvInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		CacheDisabled:      getEnvBool("CACHE_DISABLED", false),
		RedisURL:           getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		items = append(items, value)
	}
	return items
}
