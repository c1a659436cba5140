package youtube

import (
	"encoding/json"
	"regexp"
	"strings"

	"retmusic/searchservice/internal/domain"
	"retmusic/searchservice/internal/providers/common"
)

var (
	initialDataPattern = regexp.MustCompile(`(?s)var ytInitialData = ({.*?});`)

	// Fallback patterns for result pages where the embedded JSON blob is
	// missing or truncated. Each co-locates id, title and author; the first
	// pattern that matches anything wins.
	fallbackPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)"videoId":"([^"]+)".*?"title":\{"runs":\[\{"text":"([^"]+)"\}.*?"ownerText":\{"runs":\[\{"text":"([^"]+)"\}`),
		regexp.MustCompile(`(?s)"videoId":"([^"]+)".*?"title":\{"simpleText":"([^"]+)"\}.*?"longBylineText":\{"runs":\[\{"text":"([^"]+)"\}`),
		regexp.MustCompile(`(?s)watch\?v=([a-zA-Z0-9_-]{11}).*?title="([^"]+)".*?by ([^<]+)<`),
	}
)

type extractStrategy func(doc string, max int) []domain.MediaRecord

var strategies = []extractStrategy{
	extractStructured,
	extractWithPatterns,
}

// ExtractRecords pulls video records out of a search result page. The
// structured strategy runs first; the regex fallback is consulted only when
// the structured pass yields nothing. Duplicate ids keep their first
// occurrence.
func ExtractRecords(doc string, max int) []domain.MediaRecord {
	if max <= 0 {
		return nil
	}
	for _, strategy := range strategies {
		records := strategy(doc, max)
		if len(records) == 0 {
			continue
		}
		return dedupeByID(records, max)
	}
	return nil
}

func extractStructured(doc string, max int) []domain.MediaRecord {
	match := initialDataPattern.FindStringSubmatch(doc)
	if len(match) < 2 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
		return nil
	}

	sections, ok := navigate(data,
		"contents", "twoColumnSearchResultsRenderer", "primaryContents",
		"sectionListRenderer", "contents")
	if !ok {
		return nil
	}
	sectionList, ok := sections.([]any)
	if !ok {
		return nil
	}

	records := make([]domain.MediaRecord, 0, max)
	for _, section := range sectionList {
		items, ok := navigate(section, "itemSectionRenderer", "contents")
		if !ok {
			continue
		}
		itemList, ok := items.([]any)
		if !ok {
			continue
		}
		for _, item := range itemList {
			renderer, ok := navigate(item, "videoRenderer")
			if !ok {
				continue
			}
			record, ok := mapRenderer(renderer)
			if !ok {
				continue
			}
			records = append(records, record)
			if len(records) >= max {
				return records
			}
		}
	}
	return records
}

func extractWithPatterns(doc string, max int) []domain.MediaRecord {
	for _, pattern := range fallbackPatterns {
		matches := pattern.FindAllStringSubmatch(doc, max)
		if len(matches) == 0 {
			continue
		}
		records := make([]domain.MediaRecord, 0, len(matches))
		for _, match := range matches {
			if len(match) < 4 {
				continue
			}
			id := strings.TrimSpace(match[1])
			if id == "" {
				continue
			}
			record := domain.MediaRecord{
				ID:     id,
				Title:  strings.TrimSpace(match[2]),
				Author: strings.TrimSpace(match[3]),
			}
			record.EnsureThumbnail()
			records = append(records, record)
		}
		if len(records) > 0 {
			return records
		}
	}
	return nil
}

// mapRenderer converts one videoRenderer object into a record. Entries
// without an id are dropped.
func mapRenderer(renderer any) (domain.MediaRecord, bool) {
	id, _ := stringAt(renderer, "videoId")
	if id == "" {
		return domain.MediaRecord{}, false
	}

	title := textFromRuns(valueAt(renderer, "title"))
	if title == "" {
		title = "Unknown Title"
	}
	author := textFromRuns(valueAt(renderer, "ownerText"))
	if author == "" {
		author = "Unknown Author"
	}

	record := domain.MediaRecord{
		ID:              id,
		Title:           title,
		Author:          author,
		DurationSeconds: common.ParseDuration(textFromRuns(valueAt(renderer, "lengthText"))),
		ViewCount:       common.ParseViewCount(textFromRuns(valueAt(renderer, "viewCountText"))),
	}

	// Renderer thumbnails are ordered smallest first; keep the largest.
	if thumbs, ok := navigate(renderer, "thumbnail", "thumbnails"); ok {
		if list, ok := thumbs.([]any); ok && len(list) > 0 {
			if url, ok := stringAt(list[len(list)-1], "url"); ok && url != "" {
				record.Thumbnails = []domain.Thumbnail{{URL: url, Quality: "default"}}
			}
		}
	}
	record.EnsureThumbnail()
	return record, true
}

// navigate walks a decoded JSON value by map keys and list indexes, returning
// false as soon as a step does not fit the value's shape.
func navigate(value any, path ...any) (any, bool) {
	current := value
	for _, step := range path {
		switch key := step.(type) {
		case string:
			object, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = object[key]
			if !ok {
				return nil, false
			}
		case int:
			list, ok := current.([]any)
			if !ok || key < 0 || key >= len(list) {
				return nil, false
			}
			current = list[key]
		default:
			return nil, false
		}
	}
	return current, true
}

// textFromRuns reads YouTube's text format: either a "runs" array of text
// fragments or a "simpleText" string.
func textFromRuns(value any) string {
	object, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	if runs, ok := object["runs"].([]any); ok && len(runs) > 0 {
		var builder strings.Builder
		for _, run := range runs {
			if text, ok := stringAt(run, "text"); ok {
				builder.WriteString(text)
			}
		}
		return builder.String()
	}
	if simple, ok := object["simpleText"].(string); ok {
		return simple
	}
	return ""
}

func valueAt(value any, key string) any {
	result, _ := navigate(value, key)
	return result
}

func stringAt(value any, key string) (string, bool) {
	raw, ok := navigate(value, key)
	if !ok {
		return "", false
	}
	text, ok := raw.(string)
	return text, ok
}

func dedupeByID(records []domain.MediaRecord, max int) []domain.MediaRecord {
	seen := make(map[string]struct{}, len(records))
	unique := make([]domain.MediaRecord, 0, len(records))
	for _, record := range records {
		if _, exists := seen[record.ID]; exists {
			continue
		}
		seen[record.ID] = struct{}{}
		unique = append(unique, record)
		if len(unique) >= max {
			break
		}
	}
	return unique
}
