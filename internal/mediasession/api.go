// Package mediasession wraps pion into the small surface the call controller
// needs: acquire local tracks, build offers and answers, trickle candidates,
// and report connectivity.
package mediasession

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/veldt-labs/callbox/internal/config"
)

// NewAPI builds the shared pion API handle. Media engines and interceptors
// are registered once here; every peer connection is created from it.
func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: newLoggerFactory(logger),
	}

	if cfg.WebRTCUDPPortMin != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortMin, cfg.WebRTCUDPPortMax); err != nil {
			return nil, fmt.Errorf("mediasession: set udp port range: %w", err)
		}
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("mediasession: register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
	), nil
}
