// Package suggest is the terminal search tier. It never touches the network
// and never returns an empty result: when every upstream tier failed, the
// generator answers from curated song tables keyed on genre words found in
// the query.
package suggest

import (
	"context"
	"encoding/base64"
	"hash/fnv"
	"math/rand/v2"
	"strings"

	"retmusic/searchservice/internal/domain"
)

// genreCatalog maps a genre keyword found anywhere in the query to songs
// suggested for it. Iterated in the order of genreOrder so matching is
// deterministic.
var genreCatalog = map[string][]string{
	"rock":      {"Queen - Bohemian Rhapsody", "Led Zeppelin - Stairway to Heaven", "AC/DC - Thunderstruck"},
	"pop":       {"Michael Jackson - Billie Jean", "Madonna - Like a Prayer", "Prince - Purple Rain"},
	"classical": {"Mozart - Eine kleine Nachtmusik", "Beethoven - 9th Symphony", "Bach - Air on G String"},
	"jazz":      {"Miles Davis - Kind of Blue", "John Coltrane - Giant Steps", "Duke Ellington - Take Five"},
	"hip hop":   {"Tupac - California Love", "Notorious B.I.G. - Juicy", "Eminem - Lose Yourself"},
	"country":   {"Johnny Cash - Ring of Fire", "Dolly Parton - Jolene", "Willie Nelson - On the Road Again"},
	"80s":       {"Journey - Don't Stop Believin'", "Bon Jovi - Livin' on a Prayer", "Def Leppard - Pour Some Sugar"},
	"90s":       {"Nirvana - Smells Like Teen Spirit", "Pearl Jam - Alive", "Soundgarden - Black Hole Sun"},
}

var genreOrder = []string{"rock", "pop", "classical", "jazz", "hip hop", "country", "80s", "90s"}

type popularSong struct {
	ID     string
	Title  string
	Author string
}

// popularSongs back general queries that match no genre. The ids are real
// so the suggested entries stay playable.
var popularSongs = []popularSong{
	{"dQw4w9WgXcQ", "Rick Astley - Never Gonna Give You Up", "Rick Astley"},
	{"fJ9rUzIMcZQ", "Queen - Bohemian Rhapsody (Official Video)", "Queen Official"},
	{"YkADj0TPrJA", "John Lennon - Imagine (official video)", "John Lennon"},
	{"BciS5krYL80", "Eagles - Hotel California (Official Video)", "Eagles"},
	{"iYYRH4apXDo", "Led Zeppelin - Stairway To Heaven", "Led Zeppelin"},
	{"1w7OgIMMRc4", "Guns N' Roses - Sweet Child O' Mine", "Guns N' Roses"},
	{"Zi_XLOBDo_Y", "Michael Jackson - Billie Jean (Official Video)", "Michael Jackson"},
	{"hTWKbfoikeg", "Nirvana - Smells Like Teen Spirit (Official Music Video)", "Nirvana"},
	{"JGwWNGJdvx8", "Ed Sheeran - Shape of You (Official Video)", "Ed Sheeran"},
	{"kJQP7kiw5Fk", "Luis Fonsi - Despacito ft. Daddy Yankee", "Luis Fonsi"},
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Name() string {
	return domain.TierSuggestions
}

// Search synthesizes results for the query. A genre keyword in the query
// selects that genre's songs; otherwise a sample of the popular table is
// returned, ordered by a shuffle seeded from the query so the same query
// always yields the same records. Never empty, never an error.
func (g *Generator) Search(_ context.Context, query string, limit int) ([]domain.MediaRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	queryLower := strings.ToLower(query)

	for _, genre := range genreOrder {
		if !strings.Contains(queryLower, genre) {
			continue
		}
		songs := genreCatalog[genre]
		records := make([]domain.MediaRecord, 0, len(songs))
		for _, song := range songs {
			records = append(records, genreRecord(song, query))
			if len(records) >= limit {
				break
			}
		}
		return records, nil
	}

	sample := make([]popularSong, len(popularSongs))
	copy(sample, popularSongs)
	rng := rand.New(rand.NewPCG(querySeed(queryLower), 0))
	rng.Shuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})
	if len(sample) > limit {
		sample = sample[:limit]
	}

	records := make([]domain.MediaRecord, 0, len(sample))
	for _, song := range sample {
		record := domain.MediaRecord{
			ID:              song.ID,
			Title:           song.Title,
			Author:          song.Author,
			DurationSeconds: derivedInt(song.Title, "duration", 180, 400),
			ViewCount:       int64(derivedInt(song.Title, "views", 10_000_000, 1_000_000_000)),
			Description:     "Popular suggestion for: " + query,
		}
		record.EnsureThumbnail()
		records = append(records, record)
	}
	return records, nil
}

func genreRecord(song, query string) domain.MediaRecord {
	author := "Various Artists"
	if artist, _, found := strings.Cut(song, " - "); found {
		author = artist
	}
	record := domain.MediaRecord{
		ID:              syntheticID(song),
		Title:           song,
		Author:          author,
		DurationSeconds: derivedInt(song, "duration", 180, 300),
		ViewCount:       int64(derivedInt(song, "views", 1_000_000, 100_000_000)),
		Description:     "Suggested based on your search for: " + query,
	}
	record.EnsureThumbnail()
	return record
}

// syntheticID derives a stable 11-character id from the song title, so the
// same title always maps to the same entry across processes.
func syntheticID(title string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(title))
	if len(encoded) < 11 {
		encoded += strings.Repeat("A", 11-len(encoded))
	}
	return strings.ReplaceAll(encoded[:11], "=", "A")
}

// querySeed hashes the query into the shuffle seed for the popular table,
// so which songs a short limit selects depends only on the query text.
func querySeed(query string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	return h.Sum64()
}

// derivedInt maps title+facet onto [min, max] deterministically.
func derivedInt(title, facet string, min, max int) int {
	h := fnv.New64a()
	h.Write([]byte(facet))
	h.Write([]byte(title))
	span := uint64(max - min + 1)
	return min + int(h.Sum64()%span)
}
