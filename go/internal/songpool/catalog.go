package songpool

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/hitster/go/internal/models"
)

//go:embed songs.yaml
var defaultCatalog []byte

// Catalog is the on-disk song list format.
type Catalog struct {
	Songs []models.Song `yaml:"songs"`
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// CatalogProvider serves pools from an in-memory catalog.
type CatalogProvider struct {
	songs []models.Song

	mu  sync.Mutex
	rnd Shuffler
}

var _ Provider = (*CatalogProvider)(nil)

func NewCatalogProvider(c Catalog, rnd Shuffler) *CatalogProvider {
	return &CatalogProvider{songs: models.CloneSongs(c.Songs), rnd: rnd}
}

// Pool filters the catalog for the mode and returns it shuffled.
func (p *CatalogProvider) Pool(ctx context.Context, mode models.GameMode, settings map[string]string) ([]models.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	songs := Filter(p.songs, settings)
	if len(songs) == 0 {
		return nil, ErrEmptyPool
	}

	p.mu.Lock()
	songs = Shuffle(songs, p.rnd)
	p.mu.Unlock()

	log.Debug().
		Str("mode", string(mode)).
		Int("songs", len(songs)).
		Msg("song pool built")
	return songs, nil
}
