package callsession

import (
	"context"
	"encoding/json"

	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/signal"
)

// Transport is the mailbox binding. Both the HTTP polling client and the
// WebSocket push client satisfy it, so the controller never knows which
// transport carried a signal.
type Transport interface {
	Send(ctx context.Context, msg signal.Message) error
	Poll(ctx context.Context, identity string) ([]signal.Message, error)
	Clear(ctx context.Context, identity string) error
}

// MediaTracks is the locally held capture for one call. Release must be
// synchronous and idempotent.
type MediaTracks interface {
	ToggleAudio() (muted bool)
	ToggleVideo() (disabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Release()
	Released() bool
}

// Capture acquires local media. Acquisition failure aborts call start before
// any signal is sent.
type Capture interface {
	Acquire(withVideo bool) (MediaTracks, error)
}

// ConnState is the connectivity of the underlying media session, reduced to
// what the state machine cares about.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
)

// MediaSession is one peer transport. Payloads are the opaque blobs carried
// in signal messages; the controller passes them through unmodified.
type MediaSession interface {
	// OnLocalCandidate must be registered before CreateOffer/AcceptOffer.
	OnLocalCandidate(fn func(payload json.RawMessage))
	OnConnectionState(fn func(ConnState))

	CreateOffer(ctx context.Context) (payload json.RawMessage, err error)
	AcceptOffer(ctx context.Context, offer json.RawMessage) (answer json.RawMessage, err error)
	AcceptAnswer(answer json.RawMessage) error
	AddRemoteCandidate(candidate json.RawMessage) error

	Close() error
}

// MediaFactory creates the media session for one call attempt, bound to the
// tracks the call acquired.
type MediaFactory interface {
	NewSession(tracks MediaTracks) (MediaSession, error)
}

// Recorder is the history sink. Append failures are logged and swallowed by
// the controller; they never block teardown.
type Recorder interface {
	Append(ctx context.Context, rec history.Record) (history.Record, error)
}
