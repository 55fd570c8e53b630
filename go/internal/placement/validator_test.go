package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/hitster/go/internal/models"
)

func song(id string, year int) models.Song {
	return models.Song{ID: id, Title: id, Year: year}
}

func TestValidate(t *testing.T) {
	timeline := []models.Song{song("a", 1975), song("b", 1991)}

	tests := []struct {
		name      string
		timeline  []models.Song
		candidate models.Song
		position  int
		want      bool
	}{
		{"between neighbours", timeline, song("c", 1983), 1, true},
		{"before a later song", timeline, song("c", 1983), 0, false},
		{"after an earlier song", timeline, song("c", 1983), 2, false},
		{"at the start", timeline, song("c", 1960), 0, true},
		{"at the end", timeline, song("c", 2001), 2, true},
		{"tie with previous", timeline, song("c", 1975), 1, true},
		{"tie with next", timeline, song("c", 1991), 1, true},
		{"tie at the head", timeline, song("c", 1975), 0, true},
		{"tie at the tail", timeline, song("c", 1991), 2, true},
		{"empty timeline", nil, song("c", 1983), 0, true},
		{"negative position", timeline, song("c", 1983), -1, false},
		{"position past the end", timeline, song("c", 1983), 3, false},
		{"empty timeline position one", nil, song("c", 1983), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.timeline, tt.candidate, tt.position))
		})
	}
}

// Exhaustively compares Validate against a brute-force ordering check: a
// placement is legal iff the resulting timeline is still non-decreasing.
func TestValidateMatchesSortedness(t *testing.T) {
	years := []int{1970, 1980, 1980, 1990}
	timeline := make([]models.Song, len(years))
	for i, y := range years {
		timeline[i] = song(string(rune('a'+i)), y)
	}

	for year := 1965; year <= 1995; year += 5 {
		for pos := 0; pos <= len(timeline); pos++ {
			candidate := song("x", year)
			inserted := Insert(timeline, candidate, pos)
			sorted := true
			for i := 1; i < len(inserted); i++ {
				if inserted[i].Year < inserted[i-1].Year {
					sorted = false
					break
				}
			}
			assert.Equal(t, sorted, Validate(timeline, candidate, pos), "year=%d pos=%d", year, pos)
		}
	}
}

func TestInsertDoesNotMutate(t *testing.T) {
	timeline := []models.Song{song("a", 1975), song("b", 1991)}
	out := Insert(timeline, song("c", 1983), 1)

	assert.Equal(t, []string{"a", "c", "b"}, ids(out))
	assert.Equal(t, []string{"a", "b"}, ids(timeline))
}

func TestCorrectPositions(t *testing.T) {
	timeline := []models.Song{song("a", 1975), song("b", 1991)}

	assert.Equal(t, []int{1}, CorrectPositions(timeline, song("c", 1983)))
	assert.Equal(t, []int{0, 1}, CorrectPositions(timeline, song("c", 1975)))
	assert.Equal(t, []int{0}, CorrectPositions(nil, song("c", 1975)))
}

func ids(songs []models.Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.ID
	}
	return out
}
