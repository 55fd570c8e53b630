package store

import (
	"sort"

	"github.com/mcdev12/hitster/go/internal/models"
)

// SortPlayers orders players by join time, then id, matching the SQL adapter.
func SortPlayers(players []models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID.String() < players[j].ID.String()
	})
}
