package mediasession

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/veldt-labs/callbox/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireTracks_Gates(t *testing.T) {
	tracks, err := AcquireTracks(true)
	if err != nil {
		t.Fatalf("AcquireTracks: %v", err)
	}

	if !tracks.AudioEnabled() || !tracks.VideoEnabled() {
		t.Fatal("fresh tracks must start enabled")
	}

	if muted := tracks.ToggleAudio(); !muted {
		t.Fatal("first ToggleAudio must mute")
	}
	if tracks.AudioEnabled() {
		t.Fatal("audio still enabled after mute")
	}
	if muted := tracks.ToggleAudio(); muted {
		t.Fatal("second ToggleAudio must unmute")
	}

	tracks.Release()
	if !tracks.Released() {
		t.Fatal("Release did not mark tracks released")
	}
	if tracks.AudioEnabled() || tracks.VideoEnabled() {
		t.Fatal("released tracks must read disabled")
	}

	// Idempotent.
	tracks.Release()
}

func TestAcquireTracks_AudioOnly(t *testing.T) {
	tracks, err := AcquireTracks(false)
	if err != nil {
		t.Fatalf("AcquireTracks: %v", err)
	}
	if tracks.HasVideo() {
		t.Fatal("audio-only call must not carry a video track")
	}
	if disabled := tracks.ToggleVideo(); !disabled {
		t.Fatal("ToggleVideo on audio-only call must report disabled")
	}
}

func TestPeer_OfferAnswerExchange(t *testing.T) {
	cfg := config.Config{ICEGatheringTimeout: 500 * time.Millisecond}

	api, err := NewAPI(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	callerTracks, err := AcquireTracks(true)
	if err != nil {
		t.Fatalf("AcquireTracks: %v", err)
	}
	caller, err := NewPeer(api, cfg, testLogger(), callerTracks)
	if err != nil {
		t.Fatalf("NewPeer(caller): %v", err)
	}
	defer caller.Close()

	calleeTracks, err := AcquireTracks(true)
	if err != nil {
		t.Fatalf("AcquireTracks: %v", err)
	}
	callee, err := NewPeer(api, cfg, testLogger(), calleeTracks)
	if err != nil {
		t.Fatalf("NewPeer(callee): %v", err)
	}
	defer callee.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		t.Fatalf("offer=%+v, want non-empty offer SDP", offer.Type)
	}

	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		t.Fatalf("answer=%+v, want non-empty answer SDP", answer.Type)
	}

	if err := caller.AcceptAnswer(answer); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}

	// Close twice to confirm idempotency.
	if err := caller.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := caller.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
