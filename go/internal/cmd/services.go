package main

import (
	"fmt"
	"math/rand"

	"github.com/mcdev12/hitster/go/internal/config"
	"github.com/mcdev12/hitster/go/internal/session"
	"github.com/mcdev12/hitster/go/internal/sidechannel"
	"github.com/mcdev12/hitster/go/internal/songpool"
	"github.com/mcdev12/hitster/go/internal/store"
)

func setupTransport(cfg config.SideChannelConfig) (sidechannel.Transport, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return sidechannel.NewNATSTransport(cfg.NATSURL, cfg.SubjectPrefix), nil
	case config.TransportWebSocket:
		return sidechannel.NewWebSocketTransport(cfg.RelayURL), nil
	case config.TransportLoopback:
		return sidechannel.NewLoopback(), nil
	}
	return nil, fmt.Errorf("unknown side channel transport %q", cfg.Transport)
}

// setupDeps wires the coordinator's collaborators:
// store → song pool → previews → side channel → audio.
func setupDeps(cfg config.Config, st store.Store, songs songpool.Provider, rnd *rand.Rand) (session.Deps, error) {
	transport, err := setupTransport(cfg.SideChannel)
	if err != nil {
		return session.Deps{}, err
	}

	deps := session.Deps{
		Store:     st,
		Transport: transport,
		Songs:     songs,
		Audio:     session.LogAudio{},
		Rand:      rnd,
	}
	if cfg.Songs.PreviewBaseURL != "" {
		previews := songpool.NewHTTPPreviewProvider(cfg.Songs.PreviewBaseURL, cfg.Songs.PreviewTimeout)
		if cfg.Songs.PreviewAPIKey != "" {
			previews.SetAPIKey(cfg.Songs.PreviewAPIKey)
		}
		deps.Previews = previews
	}
	return deps, nil
}
