// Package songpool supplies the songs a room plays through and resolves
// audio previews for them.
package songpool

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mcdev12/hitster/go/internal/models"
)

// Mode settings understood by Filter.
const (
	SettingGenre  = "genre"
	SettingDecade = "decade"
)

// ErrEmptyPool is returned when no song survives the filters.
var ErrEmptyPool = errors.New("songpool: no songs match the game settings")

// Provider produces the ordered song pool for a new game.
type Provider interface {
	Pool(ctx context.Context, mode models.GameMode, settings map[string]string) ([]models.Song, error)
}

// PreviewProvider resolves a playable preview URL for a song.
type PreviewProvider interface {
	PreviewURL(ctx context.Context, song models.Song) (string, error)
}

// Shuffler is satisfied by *rand.Rand from math/rand and math/rand/v2.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Filter keeps the songs matching the mode settings. The genre setting is
// matched case-insensitively; decade is a start year such as "1980" or "80s".
// Songs missing an id or title, or without a positive year, are skipped, and
// only the first song with a given id is kept.
func Filter(songs []models.Song, settings map[string]string) []models.Song {
	genre := strings.TrimSpace(settings[SettingGenre])
	decade, hasDecade := parseDecade(settings[SettingDecade])

	out := make([]models.Song, 0, len(songs))
	seen := make(map[string]struct{}, len(songs))
	for _, s := range songs {
		if s.ID == "" || s.Title == "" || s.Year <= 0 {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		if genre != "" && !strings.EqualFold(s.Genre, genre) {
			continue
		}
		if hasDecade && (s.Year < decade || s.Year >= decade+10) {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Dedupe returns songs with repeated ids removed, keeping the first of each.
func Dedupe(songs []models.Song) []models.Song {
	out := make([]models.Song, 0, len(songs))
	seen := make(map[string]struct{}, len(songs))
	for _, s := range songs {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Shuffle permutes a copy of songs.
func Shuffle(songs []models.Song, rnd Shuffler) []models.Song {
	out := models.CloneSongs(songs)
	if rnd == nil {
		return out
	}
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func parseDecade(v string) (int, bool) {
	v = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), "s")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if n < 100 {
		// two-digit decades: 60-99 are 1900s, 00-59 are 2000s
		if n >= 60 {
			n += 1900
		} else {
			n += 2000
		}
	}
	return n - n%10, true
}
