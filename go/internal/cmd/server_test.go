package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/session"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store"
)

func newDevice(t *testing.T, st store.Store, bus sidechannel.Transport, clock clockwork.Clock, sessionID string) *session.Coordinator {
	t.Helper()
	catalog := songpool.Catalog{Songs: []models.Song{
		{ID: "one", Title: "One", Artist: "A", Year: 1961},
		{ID: "two", Title: "Two", Artist: "B", Year: 1972},
		{ID: "three", Title: "Three", Artist: "C", Year: 1983},
		{ID: "four", Title: "Four", Artist: "D", Year: 1994},
	}}
	opts := session.DefaultOptions()
	opts.Reconnect.HealthInterval = time.Hour
	opts.PreviewTimeout = 0
	coord, err := session.New(session.Deps{
		Store:     st,
		Transport: bus,
		Songs:     songpool.NewCatalogProvider(catalog, nil),
		Clock:     clock,
		NewCode:   func() string { return "PARTY1" },
	}, opts, sessionID)
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	return coord
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerRunsARound(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock)
	bus := sidechannel.NewLoopback()

	host := newDevice(t, st, bus, clock, "host-device")
	code, err := host.CreateRoom(ctx, "Hosty")
	require.NoError(t, err)
	ada := newDevice(t, st, bus, clock, "ada-device")
	require.NoError(t, ada.JoinRoom(ctx, code, "Ada"))

	hostSrv := httptest.NewServer(setupServer("0", host).Handler)
	defer hostSrv.Close()
	adaSrv := httptest.NewServer(setupServer("0", ada).Handler)
	defer adaSrv.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, hostSrv, http.MethodGet, "/start", "").StatusCode)

	resp := do(t, adaSrv, http.MethodPost, "/start", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiErr errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "validation", apiErr.Kind)

	require.Equal(t, http.StatusNoContent, do(t, hostSrv, http.MethodPost, "/start", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, hostSrv, http.MethodPost, "/start", "").StatusCode)

	// Ada holds 1961 and the current song is 1972, so it goes after her card.
	require.Eventually(t, func() bool {
		snap := ada.Snapshot()
		return snap.Room != nil && snap.Room.CurrentSong != nil
	}, 2*time.Second, 10*time.Millisecond)
	resp = do(t, adaSrv, http.MethodPost, "/place", `{"position": 1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res session.PlacementResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.True(t, res.Correct)

	resp = do(t, adaSrv, http.MethodPost, "/place", `{"song_id": "two", "position": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusBadRequest, do(t, hostSrv, http.MethodPost, "/kick", `{"player_id": "nope"}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, hostSrv, http.MethodPost, "/kick", `{"player_id": "`+uuid.NewString()+`"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, hostSrv, http.MethodPost, "/audio", `{"action": "rewind"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, hostSrv, http.MethodPost, "/play-again", "").StatusCode)

	require.Equal(t, http.StatusNoContent, do(t, hostSrv, http.MethodPost, "/kick", `{"player_id": "`+ada.Identity().PlayerID.String()+`"}`).StatusCode)
	require.Eventually(t, func() bool { return ada.Snapshot().Kicked }, 2*time.Second, 10*time.Millisecond)
}
