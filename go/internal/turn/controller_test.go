package turn

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
)

func roster(n int) []models.Player {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Player, n)
	for i := range out {
		out[i] = models.Player{ID: uuid.New(), JoinedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func pool(ids ...string) []models.Song {
	out := make([]models.Song, len(ids))
	for i, id := range ids {
		out[i] = models.Song{ID: id, Title: id, Year: 1970 + i}
	}
	return out
}

func intp(i int) *int { return &i }

func TestAdvanceWrapsAroundRoster(t *testing.T) {
	c := NewController()
	r := roster(3)
	p := pool("a", "b", "c", "d")

	tests := []struct {
		current int
		want    int
	}{
		{0, 1},
		{1, 2},
		{2, 0},
		{7, 2},
	}
	for _, tt := range tests {
		got := c.Advance(State{CurrentTurn: intp(tt.current)}, r, p, nil)
		require.NotNil(t, got.CurrentTurn)
		assert.Equal(t, tt.want, *got.CurrentTurn)
		assert.Equal(t, r[tt.want].ID, *got.CurrentPlayerID)
	}
}

func TestAdvanceEmptyRosterIsNoop(t *testing.T) {
	c := NewController()
	song := models.Song{ID: "x"}
	id := uuid.New()
	state := State{CurrentTurn: intp(2), CurrentSong: &song, CurrentPlayerID: &id}

	got := c.Advance(state, nil, pool("a"), nil)
	assert.Equal(t, state, got)
}

func TestAdvanceFromNoTurnStartsAtZero(t *testing.T) {
	c := NewController()
	r := roster(2)
	got := c.Advance(State{}, r, pool("a"), nil)
	assert.Equal(t, 0, *got.CurrentTurn)
}

func TestDrawSkipsUsedAndReportsExhaustion(t *testing.T) {
	p := pool("a", "b", "c")
	used := map[string]struct{}{"a": {}, "b": {}}

	got := Draw(p, used)
	require.NotNil(t, got)
	assert.Equal(t, "c", got.ID)

	used["c"] = struct{}{}
	assert.Nil(t, Draw(p, used))
}

func TestAdvanceNeverRedrawsPassedSongs(t *testing.T) {
	c := NewController()
	r := roster(1)
	p := pool("a", "b", "c", "d")

	// "a" was dealt, "b" was placed wrong and thrown away
	state := State{CurrentTurn: intp(0), CurrentSong: &p[1], CurrentPlayerID: &r[0].ID}
	used := map[string]struct{}{"a": {}}

	var drawn []string
	for {
		state = c.Advance(state, r, p, used)
		if state.CurrentSong == nil {
			break
		}
		drawn = append(drawn, state.CurrentSong.ID)
	}
	assert.Equal(t, []string{"c", "d"}, drawn)
}

func TestDrawAfter(t *testing.T) {
	p := pool("a", "b", "c")

	got := DrawAfter(p, &p[0], map[string]struct{}{"b": {}})
	require.NotNil(t, got)
	assert.Equal(t, "c", got.ID)

	assert.Nil(t, DrawAfter(p, &p[2], nil))

	stranger := models.Song{ID: "zz"}
	got = DrawAfter(p, &stranger, map[string]struct{}{"a": {}})
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestStart(t *testing.T) {
	c := NewController()
	r := roster(2)
	s := c.Start(r, pool("a", "b"), map[string]struct{}{"a": {}})
	assert.Equal(t, 0, *s.CurrentTurn)
	assert.Equal(t, r[0].ID, *s.CurrentPlayerID)
	assert.Equal(t, "b", s.CurrentSong.ID)

	assert.Equal(t, State{}, c.Start(nil, pool("a"), nil))
}

func TestUsedSongs(t *testing.T) {
	cur := models.Song{ID: "cur"}
	room := models.Room{CurrentSong: &cur}
	players := []models.Player{
		{Timeline: []models.Song{{ID: "a"}, {ID: "b"}}},
		{Timeline: []models.Song{{ID: "c"}}},
	}
	used := UsedSongs(room, players)
	assert.Len(t, used, 4)
	for _, id := range []string{"a", "b", "c", "cur"} {
		assert.Contains(t, used, id)
	}
}

func TestAttemptGating(t *testing.T) {
	c := NewController()
	r := roster(2)
	p := pool("a", "b")
	start := State{CurrentTurn: intp(0)}

	_, err := c.Resolve(OutcomeCorrect, start, r, p, nil)
	assert.ErrorIs(t, err, ErrNoAttempt)

	require.NoError(t, c.Begin())
	assert.ErrorIs(t, c.Begin(), ErrAttemptInFlight)

	got, err := c.Resolve(OutcomePending, start, r, p, nil)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, start, got)
	assert.ErrorIs(t, c.Begin(), ErrAttemptInFlight)

	got, err = c.Resolve(OutcomeIncorrect, start, r, p, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, *got.CurrentTurn)

	// one resolution advances exactly once
	_, err = c.Resolve(OutcomeCorrect, got, r, p, nil)
	assert.ErrorIs(t, err, ErrNoAttempt)

	require.NoError(t, c.Begin())
	c.Cancel()
	assert.NoError(t, c.Begin())
}

func TestPatchRoundTripsThroughRoom(t *testing.T) {
	song := models.Song{ID: "s"}
	id := uuid.New()
	s := State{CurrentTurn: intp(1), CurrentSong: &song, CurrentPlayerID: &id}

	room := s.Patch().Apply(models.Room{})
	assert.Equal(t, s, FromRoom(room))

	cleared := State{}.Patch().Apply(room)
	assert.Equal(t, State{}, FromRoom(cleared))
}

func TestRebase(t *testing.T) {
	c := NewController()
	r := roster(3)
	song := models.Song{ID: "s"}

	// current player still present but shifted down one slot
	state := State{CurrentTurn: intp(2), CurrentSong: &song, CurrentPlayerID: &r[2].ID}
	got := c.Rebase(state, []models.Player{r[1], r[2]})
	assert.Equal(t, 1, *got.CurrentTurn)
	assert.Equal(t, r[2].ID, *got.CurrentPlayerID)
	assert.Equal(t, "s", got.CurrentSong.ID)

	// current player removed: the next player inherits the slot
	state = State{CurrentTurn: intp(1), CurrentSong: &song, CurrentPlayerID: &r[1].ID}
	got = c.Rebase(state, []models.Player{r[0], r[2]})
	assert.Equal(t, 1, *got.CurrentTurn)
	assert.Equal(t, r[2].ID, *got.CurrentPlayerID)

	// removed from the last slot wraps to the front
	state = State{CurrentTurn: intp(2), CurrentSong: &song, CurrentPlayerID: &r[2].ID}
	got = c.Rebase(state, []models.Player{r[0], r[1]})
	assert.Equal(t, 0, *got.CurrentTurn)
	assert.Equal(t, r[0].ID, *got.CurrentPlayerID)

	got = c.Rebase(state, nil)
	assert.Nil(t, got.CurrentTurn)
	assert.Nil(t, got.CurrentPlayerID)
}
