// Package config loads the YAML configuration shared by the binaries and lets
// environment variables override the deployment-specific fields.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/hitster/go/internal/models"
	"github.com/mcdev12/hitster/go/internal/reconnect"
)

// DefaultPath is read when HITSTER_CONFIG is unset.
const DefaultPath = "config.yaml"

// Side-channel transports.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
	TransportLoopback  = "loopback"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Game        GameConfig        `yaml:"game"`
	Reconnect   reconnect.Policy  `yaml:"reconnect"`
	SideChannel SideChannelConfig `yaml:"side_channel"`
	Relay       RelayConfig       `yaml:"relay"`
	Songs       SongsConfig       `yaml:"songs"`
	Store       StoreConfig       `yaml:"store"`
}

type GameConfig struct {
	TargetTimelineLength int             `yaml:"target_timeline_length"`
	DefaultMode          models.GameMode `yaml:"default_mode"`
	LobbyCodeLength      int             `yaml:"lobby_code_length"`
}

type SideChannelConfig struct {
	Transport       string        `yaml:"transport"`
	NATSURL         string        `yaml:"nats_url"`
	RelayURL        string        `yaml:"relay_url"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	StalenessWindow time.Duration `yaml:"staleness_window"`
}

type RelayConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SongsConfig struct {
	CatalogPath    string        `yaml:"catalog_path"`
	PreviewBaseURL string        `yaml:"preview_base_url"`
	PreviewAPIKey  string        `yaml:"-"`
	PreviewTimeout time.Duration `yaml:"preview_timeout"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Game: GameConfig{
			TargetTimelineLength: 10,
			DefaultMode:          models.GameModeClassic,
			LobbyCodeLength:      6,
		},
		Reconnect: reconnect.DefaultPolicy(),
		SideChannel: SideChannelConfig{
			Transport:       TransportNATS,
			NATSURL:         "nats://localhost:4222",
			RelayURL:        "ws://localhost:8082/ws/room",
			SubjectPrefix:   "hitster.rooms",
			StalenessWindow: 10 * time.Second,
		},
		Relay: RelayConfig{
			Port:           "8082",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Songs: SongsConfig{
			PreviewTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend: StorePostgres,
		},
	}
}

// Load reads .env, then the YAML file named by HITSTER_CONFIG (or
// DefaultPath), then applies environment overrides. A missing file at the
// default path is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	path := os.Getenv("HITSTER_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg, err = Default(), nil
	}
	if err != nil {
		return Config{}, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults. Fields absent from the file keep
// their default values.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.SideChannel.Transport = getEnv("SIDE_CHANNEL_TRANSPORT", c.SideChannel.Transport)
	c.SideChannel.NATSURL = getEnv("NATS_URL", c.SideChannel.NATSURL)
	c.SideChannel.RelayURL = getEnv("RELAY_URL", c.SideChannel.RelayURL)
	c.Relay.Port = getEnv("RELAY_PORT", c.Relay.Port)
	c.Songs.CatalogPath = getEnv("SONG_CATALOG", c.Songs.CatalogPath)
	c.Songs.PreviewBaseURL = getEnv("PREVIEW_API_URL", c.Songs.PreviewBaseURL)
	c.Songs.PreviewAPIKey = getEnv("PREVIEW_API_KEY", c.Songs.PreviewAPIKey)
	c.Game.TargetTimelineLength = getEnvAsInt("TARGET_TIMELINE_LENGTH", c.Game.TargetTimelineLength)
}

// Validate rejects values the game cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Game.TargetTimelineLength < 1:
		return fmt.Errorf("game.target_timeline_length must be positive, got %d", c.Game.TargetTimelineLength)
	case c.Game.LobbyCodeLength < 4:
		return fmt.Errorf("game.lobby_code_length must be at least 4, got %d", c.Game.LobbyCodeLength)
	case c.Reconnect.BaseDelay <= 0:
		return fmt.Errorf("reconnect.base_delay must be positive")
	case c.Reconnect.MaxRetries < 0 || c.Reconnect.CapExponent < 0:
		return fmt.Errorf("reconnect.max_retries and reconnect.cap_exponent must not be negative")
	case c.Reconnect.HealthInterval <= 0:
		return fmt.Errorf("reconnect.health_interval must be positive")
	case c.SideChannel.StalenessWindow <= 0:
		return fmt.Errorf("side_channel.staleness_window must be positive")
	}
	switch c.Game.DefaultMode {
	case models.GameModeClassic, models.GameModeDecades, models.GameModeGenre:
	default:
		return fmt.Errorf("unknown game.default_mode %q", c.Game.DefaultMode)
	}
	switch c.SideChannel.Transport {
	case TransportNATS, TransportWebSocket, TransportLoopback:
	default:
		return fmt.Errorf("unknown side_channel.transport %q", c.SideChannel.Transport)
	}
	switch c.Store.Backend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
