// Package placement decides whether a card may be dropped into a timeline.
package placement

import "github.com/mcdev12/hitster/go/internal/models"

// Validate reports whether candidate may be inserted at position in a timeline
// sorted ascending by year. Equal years are accepted on both boundaries.
// Positions outside [0, len(timeline)] are never legal.
func Validate(timeline []models.Song, candidate models.Song, position int) bool {
	if position < 0 || position > len(timeline) {
		return false
	}
	if position > 0 && candidate.Year < timeline[position-1].Year {
		return false
	}
	if position < len(timeline) && candidate.Year > timeline[position].Year {
		return false
	}
	return true
}

// Insert returns a new timeline with candidate at position. The input is not
// modified. Position is clamped into range.
func Insert(timeline []models.Song, candidate models.Song, position int) []models.Song {
	if position < 0 {
		position = 0
	}
	if position > len(timeline) {
		position = len(timeline)
	}
	out := make([]models.Song, 0, len(timeline)+1)
	out = append(out, timeline[:position]...)
	out = append(out, candidate)
	out = append(out, timeline[position:]...)
	return out
}

// CorrectPositions lists every position at which candidate would be legal.
func CorrectPositions(timeline []models.Song, candidate models.Song) []int {
	var positions []int
	for i := 0; i <= len(timeline); i++ {
		if Validate(timeline, candidate, i) {
			positions = append(positions, i)
		}
	}
	return positions
}
