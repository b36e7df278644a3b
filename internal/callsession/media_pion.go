package callsession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/veldt-labs/callbox/internal/config"
	"github.com/veldt-labs/callbox/internal/mediasession"
)

// PionMedia satisfies both Capture and MediaFactory on top of pion. It is
// the production media binding; tests substitute fakes.
type PionMedia struct {
	api *webrtc.API
	cfg config.Config
	log *slog.Logger
}

func NewPionMedia(cfg config.Config, logger *slog.Logger) (*PionMedia, error) {
	api, err := mediasession.NewAPI(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &PionMedia{api: api, cfg: cfg, log: logger}, nil
}

func (p *PionMedia) Acquire(withVideo bool) (MediaTracks, error) {
	return mediasession.AcquireTracks(withVideo)
}

func (p *PionMedia) NewSession(tracks MediaTracks) (MediaSession, error) {
	pt, ok := tracks.(*mediasession.Tracks)
	if !ok {
		return nil, fmt.Errorf("callsession: tracks were not acquired by this factory")
	}
	peer, err := mediasession.NewPeer(p.api, p.cfg, p.log, pt)
	if err != nil {
		return nil, err
	}
	return &pionSession{peer: peer}, nil
}

// pionSession translates between the opaque signal payloads and pion's
// description/candidate types.
type pionSession struct {
	peer *mediasession.Peer
}

func (s *pionSession) OnLocalCandidate(fn func(json.RawMessage)) {
	s.peer.OnLocalCandidate(func(init webrtc.ICECandidateInit) {
		payload, err := json.Marshal(init)
		if err != nil {
			return
		}
		fn(payload)
	})
}

func (s *pionSession) OnConnectionState(fn func(ConnState)) {
	s.peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn(ConnConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			fn(ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(ConnFailed)
		}
	})
}

func (s *pionSession) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := s.peer.CreateOffer(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (s *pionSession) AcceptOffer(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return nil, fmt.Errorf("callsession: decode offer payload: %w", err)
	}
	answer, err := s.peer.AcceptOffer(ctx, offer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (s *pionSession) AcceptAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("callsession: decode answer payload: %w", err)
	}
	return s.peer.AcceptAnswer(answer)
}

func (s *pionSession) AddRemoteCandidate(payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("callsession: decode candidate payload: %w", err)
	}
	return s.peer.AddRemoteCandidate(candidate)
}

func (s *pionSession) Close() error {
	return s.peer.Close()
}
