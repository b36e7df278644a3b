package mediasession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/veldt-labs/callbox/internal/config"
)

// Peer owns one pion PeerConnection for one call attempt.
//
// Offers and answers wait for ICE gathering for at most the configured
// timeout so host candidates ride along in the SDP; anything slower trickles
// through OnLocalCandidate and the mailbox.
type Peer struct {
	log           *slog.Logger
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func NewPeer(api *webrtc.API, cfg config.Config, logger *slog.Logger, tracks *Tracks) (*Peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.PeerConnectionICEServers(),
	})
	if err != nil {
		return nil, fmt.Errorf("mediasession: new peer connection: %w", err)
	}

	if tracks != nil {
		if _, err := pc.AddTrack(tracks.Audio()); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("mediasession: add audio track: %w", err)
		}
		if tracks.HasVideo() {
			if _, err := pc.AddTrack(tracks.Video()); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("mediasession: add video track: %w", err)
			}
		}
	}

	return &Peer{
		log:           logger,
		pc:            pc,
		gatherTimeout: cfg.ICEGatheringTimeout,
	}, nil
}

// OnLocalCandidate registers the trickle callback. It must be set before
// CreateOffer or AcceptOffer so no candidate is missed. The end-of-gathering
// nil candidate is filtered out.
func (p *Peer) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// OnConnectionStateChange registers the connectivity callback the controller
// uses to detect connected and failed.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// OnRemoteTrack registers the inbound media callback.
func (p *Peer) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

// CreateOffer produces the local offer for a dialing call.
func (p *Peer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: set local offer: %w", err)
	}
	return p.localDescriptionAfterGathering(ctx)
}

// AcceptOffer installs a remote offer and produces the local answer.
func (p *Peer) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: set local answer: %w", err)
	}
	return p.localDescriptionAfterGathering(ctx)
}

// AcceptAnswer installs the remote answer on a dialing call.
func (p *Peer) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("mediasession: set remote answer: %w", err)
	}
	return nil
}

// AddRemoteCandidate applies one trickled candidate from the remote party.
func (p *Peer) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("mediasession: add remote candidate: %w", err)
	}
	return nil
}

func (p *Peer) localDescriptionAfterGathering(ctx context.Context) (webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)

	var timeout <-chan time.Time
	if p.gatherTimeout > 0 {
		timer := time.NewTimer(p.gatherTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-gathered:
	case <-timeout:
		p.log.Debug("ice gathering still running, trickling the rest")
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("mediasession: missing local description")
	}
	return *local, nil
}

// Close tears down the peer connection. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}
