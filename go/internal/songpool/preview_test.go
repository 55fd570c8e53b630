package songpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/hitster/go/internal/models"
)

func TestHTTPPreviewProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/previews", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("title") {
		case "Known":
			assert.Equal(t, "Band", r.URL.Query().Get("artist"))
			_, _ = w.Write([]byte(`{"url":"https://cdn.example/known.mp3"}`))
		case "Empty":
			_, _ = w.Write([]byte(`{"url":""}`))
		case "Broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPPreviewProvider(srv.URL, time.Second)
	p.SetAPIKey("secret")
	ctx := context.Background()

	u, err := p.PreviewURL(ctx, models.Song{ID: "1", Artist: "Band", Title: "Known"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/known.mp3", u)

	_, err = p.PreviewURL(ctx, models.Song{ID: "2", Artist: "Band", Title: "Missing"})
	assert.ErrorIs(t, err, ErrNoPreview)

	_, err = p.PreviewURL(ctx, models.Song{ID: "3", Artist: "Band", Title: "Empty"})
	assert.ErrorIs(t, err, ErrNoPreview)

	_, err = p.PreviewURL(ctx, models.Song{ID: "4", Artist: "Band", Title: "Broken"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPreview)
}

func TestHTTPPreviewProviderUsesExistingURL(t *testing.T) {
	p := NewHTTPPreviewProvider("http://127.0.0.1:0", time.Second)
	u, err := p.PreviewURL(context.Background(), models.Song{ID: "1", PreviewURL: "https://x/y.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.mp3", u)
}
