package common

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]+>`)
	viewCountPattern = regexp.MustCompile(`([\d,\.]+)\s*([KMB]?)`)
)

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseDuration converts "MM:SS" or "HH:MM:SS" duration text into seconds.
// Malformed or empty input yields 0.
func ParseDuration(raw string) int {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0
	}
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 2:
		minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || minutes < 0 {
			return 0
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || seconds < 0 {
			return 0
		}
		return minutes*60 + seconds
	case 3:
		hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || hours < 0 {
			return 0
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || minutes < 0 {
			return 0
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || seconds < 0 {
			return 0
		}
		return hours*3600 + minutes*60 + seconds
	default:
		return 0
	}
}

// ParseViewCount converts view-count text such as "1.2M views" or "12,345"
// into a number. Suffixes K, M and B scale by 1e3, 1e6 and 1e9. Unparsable
// input yields 0.
func ParseViewCount(raw string) int64 {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return 0
	}
	match := viewCountPattern.FindStringSubmatch(value)
	if len(match) < 3 {
		return 0
	}
	number, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil || number < 0 {
		return 0
	}
	multiplier := float64(1)
	switch match[2] {
	case "K":
		multiplier = 1_000
	case "M":
		multiplier = 1_000_000
	case "B":
		multiplier = 1_000_000_000
	}
	return int64(number * multiplier)
}
