package songpool

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
)

func testSongs() []models.Song {
	return []models.Song{
		{ID: "a", Title: "A", Artist: "x", Year: 1965, Genre: "Soul"},
		{ID: "b", Title: "B", Artist: "y", Year: 1984, Genre: "pop"},
		{ID: "c", Title: "C", Artist: "z", Year: 1989, Genre: "rock"},
		{ID: "d", Title: "D", Artist: "w", Year: 2001, Genre: "pop"},
		{ID: "", Title: "no id", Year: 1990},
		{ID: "e", Title: "no year"},
	}
}

func ids(songs []models.Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.ID
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
		want     []string
	}{
		{name: "no settings", settings: nil, want: []string{"a", "b", "c", "d"}},
		{name: "genre case insensitive", settings: map[string]string{"genre": "POP"}, want: []string{"b", "d"}},
		{name: "decade full year", settings: map[string]string{"decade": "1980"}, want: []string{"b", "c"}},
		{name: "decade short form", settings: map[string]string{"decade": "80s"}, want: []string{"b", "c"}},
		{name: "decade 2000s", settings: map[string]string{"decade": "00s"}, want: []string{"d"}},
		{name: "genre and decade", settings: map[string]string{"genre": "pop", "decade": "1980"}, want: []string{"b"}},
		{name: "unparseable decade ignored", settings: map[string]string{"decade": "eighties"}, want: []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(testSongs(), tt.settings)))
		})
	}
}

func TestRepeatedIDsKeepFirst(t *testing.T) {
	songs := append(testSongs()[:2], models.Song{ID: "a", Title: "A again", Year: 1999})

	filtered := Filter(songs, nil)
	assert.Equal(t, []string{"a", "b"}, ids(filtered))
	assert.Equal(t, "A", filtered[0].Title)

	assert.Equal(t, []string{"a", "b"}, ids(Dedupe(songs)))
	assert.Empty(t, Dedupe(nil))
}

func TestShuffleDoesNotMutateInput(t *testing.T) {
	songs := testSongs()[:4]
	out := Shuffle(songs, rand.New(rand.NewSource(7)))

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(songs))
	assert.ElementsMatch(t, ids(songs), ids(out))
}

func TestCatalogProviderPool(t *testing.T) {
	p := NewCatalogProvider(Catalog{Songs: testSongs()}, rand.New(rand.NewSource(1)))

	pool, err := p.Pool(context.Background(), models.GameModeGenre, map[string]string{"genre": "pop"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "d"}, ids(pool))

	_, err = p.Pool(context.Background(), models.GameModeGenre, map[string]string{"genre": "polka"})
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.NotEmpty(t, c.Songs)

	seen := make(map[string]bool)
	for _, s := range c.Songs {
		assert.NotEmpty(t, s.ID)
		assert.Positive(t, s.Year, s.ID)
		assert.False(t, seen[s.ID], "duplicate id %s", s.ID)
		seen[s.ID] = true
	}
}

func TestParseCatalogRejectsGarbage(t *testing.T) {
	_, err := ParseCatalog([]byte("songs: [:"))
	assert.Error(t, err)
}
