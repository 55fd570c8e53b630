package songpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcdev12/hitster/go/internal/models"
)

// ErrNoPreview is returned when the lookup API has no preview for a song.
var ErrNoPreview = errors.New("songpool: no preview available")

type previewResponse struct {
	URL string `json:"url"`
}

// HTTPPreviewProvider looks previews up over HTTP:
// GET <base>/previews?artist=...&title=... -> {"url": "..."}.
type HTTPPreviewProvider struct {
	client *baseClient
}

var _ PreviewProvider = (*HTTPPreviewProvider)(nil)

func NewHTTPPreviewProvider(baseURL string, timeout time.Duration) *HTTPPreviewProvider {
	c := newBaseClient(baseURL)
	if timeout > 0 {
		c.client.Timeout = timeout
	}
	return &HTTPPreviewProvider{client: c}
}

// SetAPIKey sends key as a bearer token on every lookup.
func (p *HTTPPreviewProvider) SetAPIKey(key string) {
	if key != "" {
		p.client.setHeader("Authorization", "Bearer "+key)
	}
}

// PreviewURL returns the song's own preview when it already has one.
func (p *HTTPPreviewProvider) PreviewURL(ctx context.Context, song models.Song) (string, error) {
	if song.PreviewURL != "" {
		return song.PreviewURL, nil
	}

	q := url.Values{}
	q.Set("artist", song.Artist)
	q.Set("title", song.Title)

	body, status, err := p.client.get(ctx, "/previews?"+q.Encode())
	if status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s - %s", ErrNoPreview, song.Artist, song.Title)
	}
	if err != nil {
		return "", fmt.Errorf("preview lookup for %s: %w", song.ID, err)
	}

	var resp previewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode preview response: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: %s - %s", ErrNoPreview, song.Artist, song.Title)
	}
	return resp.URL, nil
}
