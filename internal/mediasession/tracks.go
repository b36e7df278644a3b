package mediasession

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrMediaUnavailable is returned when local tracks cannot be created. The
// controller surfaces it to the user and refuses to start the call.
var ErrMediaUnavailable = errors.New("mediasession: local media unavailable")

// Tracks owns the locally held outbound media tracks for one call.
//
// This process has no microphone or camera driver; tracks are sample-fed by
// whatever producer the embedding application wires up (file playback, test
// tone, a capture sidecar). The mute gates live here so toggling never
// renegotiates: a muted track simply stops being written to.
type Tracks struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	audioOn  bool
	videoOn  bool
	released bool
}

// AcquireTracks creates the local tracks for a call. withVideo selects an
// audio-only or audio+video call.
func AcquireTracks(withVideo bool) (*Tracks, error) {
	streamID := "callbox-" + uuid.New().String()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	t := &Tracks{audio: audio, audioOn: true}

	if withVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		t.video = video
		t.videoOn = true
	}

	return t, nil
}

func (t *Tracks) HasVideo() bool { return t.video != nil }

// Audio returns the outbound audio track for writers. Writers must consult
// AudioEnabled before each sample.
func (t *Tracks) Audio() *webrtc.TrackLocalStaticSample { return t.audio }

func (t *Tracks) Video() *webrtc.TrackLocalStaticSample { return t.video }

// ToggleAudio flips the audio gate and reports the new muted state.
func (t *Tracks) ToggleAudio() (muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audioOn = !t.audioOn
	return !t.audioOn
}

// ToggleVideo flips the video gate and reports the new disabled state.
// Audio-only calls report disabled.
func (t *Tracks) ToggleVideo() (disabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.video == nil {
		return true
	}
	t.videoOn = !t.videoOn
	return !t.videoOn
}

func (t *Tracks) AudioEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioOn && !t.released
}

func (t *Tracks) VideoEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video != nil && t.videoOn && !t.released
}

// Release marks the tracks as returned to the system. It is synchronous and
// idempotent; after Release every gate reads as disabled.
func (t *Tracks) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.audioOn = false
	t.videoOn = false
}

func (t *Tracks) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
