// Package callsession drives the call lifecycle on top of the mailbox
// transport: offer creation, answer creation, candidate exchange, teardown,
// and history recording.
//
// One controller runs per signed-in identity and owns at most one live call
// session at a time. Inbound signals arrive from the poll task through
// HandleSignal; the UI drives PlaceCall, EndCall, and the local toggles.
package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/ratelimit"
	"github.com/veldt-labs/callbox/internal/signal"
)

var (
	// ErrBusy is returned by PlaceCall while another call is live. A client
	// must not hold two concurrent local media captures.
	ErrBusy = errors.New("callsession: another call is in progress")

	ErrBadRemoteParty = errors.New("callsession: invalid remote party")
)

const defaultAnswerTimeout = 30 * time.Second

type Controller struct {
	log       *slog.Logger
	identity  string
	transport Transport
	capture   Capture
	factory   MediaFactory
	recorder  Recorder

	clock         ratelimit.Clock
	answerTimeout time.Duration
	onIncoming    func(*Session)

	mu      sync.Mutex
	session *Session
}

type Options struct {
	Logger *slog.Logger
	Clock  ratelimit.Clock
	// AnswerTimeout bounds how long a dialing call waits for an answer
	// before it ends as missed.
	AnswerTimeout time.Duration
	// OnIncoming is invoked after an inbound offer has been answered, so the
	// UI can surface the incoming call. Called on the poll task.
	OnIncoming func(*Session)
}

func NewController(identity string, transport Transport, capture Capture, factory MediaFactory, recorder Recorder, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = defaultAnswerTimeout
	}
	return &Controller{
		log:           opts.Logger.With("identity", identity),
		identity:      identity,
		transport:     transport,
		capture:       capture,
		factory:       factory,
		recorder:      recorder,
		clock:         opts.Clock,
		answerTimeout: opts.AnswerTimeout,
		onIncoming:    opts.OnIncoming,
	}
}

// Session returns the current session, live or terminal, or nil before the
// first call.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PlaceCall starts an outbound call: acquire local media, create the offer,
// and send it to remoteParty's mailbox. Media acquisition failure aborts
// before any signal is sent.
func (c *Controller) PlaceCall(ctx context.Context, remoteParty string, kind history.Kind) (*Session, error) {
	if remoteParty == "" || remoteParty == c.identity {
		return nil, ErrBadRemoteParty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && !c.session.State().Terminal() {
		return nil, ErrBusy
	}

	sess, err := c.startSessionLocked(ctx, remoteParty, RoleCaller, kind)
	if err != nil {
		return nil, err
	}

	offer, err := sess.media.CreateOffer(ctx)
	if err != nil {
		c.discard(sess)
		return nil, fmt.Errorf("callsession: create offer: %w", err)
	}
	if err := c.send(ctx, remoteParty, signal.KindOffer, offer); err != nil {
		c.discard(sess)
		return nil, fmt.Errorf("callsession: send offer: %w", err)
	}

	now := c.clock.Now()
	sess.mu.Lock()
	sess.state = StateDialing
	sess.startedAt = now
	sess.answerDeadline = now.Add(c.answerTimeout)
	sess.mu.Unlock()

	c.session = sess
	c.log.Info("call placed", "remote", remoteParty, "kind", string(kind), "session_id", sess.ID)
	return sess, nil
}

// HandleSignal feeds one inbound mailbox message into the state machine. The
// poll task is the sole caller. Signals that reference no live session are
// ignored, never surfaced as errors.
func (c *Controller) HandleSignal(ctx context.Context, msg signal.Message) error {
	if msg.To != c.identity {
		return nil
	}
	switch msg.Kind {
	case signal.KindOffer:
		return c.handleOffer(ctx, msg)
	case signal.KindAnswer:
		return c.handleAnswer(ctx, msg)
	case signal.KindCandidate:
		c.handleCandidate(msg)
		return nil
	default:
		return nil
	}
}

// Tick advances time-based transitions; the poll task calls it once per
// interval. A dialing call whose answer deadline passed ends as missed.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}

	sess.mu.Lock()
	expired := sess.state == StateDialing && c.clock.Now().After(sess.answerDeadline)
	sess.mu.Unlock()

	if expired {
		c.log.Info("call timed out waiting for answer", "session_id", sess.ID)
		c.terminate(ctx, sess, StateEnded, history.OutcomeMissed)
	}
}

// EndCall tears the current session down. Safe from any state and idempotent:
// a second call is a no-op and never produces a second history record.
func (c *Controller) EndCall(ctx context.Context) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}

	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()

	switch state {
	case StateConnected:
		c.terminate(ctx, sess, StateEnded, history.OutcomeCompleted)
	case StateDialing:
		c.terminate(ctx, sess, StateEnded, history.OutcomeMissed)
	case StateRinging:
		c.terminate(ctx, sess, StateEnded, history.OutcomeDeclined)
	default:
		// idle or already terminal
	}
}

// ToggleMute flips the local audio gate. Purely local: no signaling message
// is sent and nothing is renegotiated.
func (c *Controller) ToggleMute() (muted bool) {
	if sess := c.Session(); sess != nil && sess.tracks != nil {
		return sess.tracks.ToggleAudio()
	}
	return false
}

// ToggleVideo flips the local video gate. Purely local, like ToggleMute.
func (c *Controller) ToggleVideo() (disabled bool) {
	if sess := c.Session(); sess != nil && sess.tracks != nil {
		return sess.tracks.ToggleVideo()
	}
	return true
}

// startSessionLocked acquires media and builds the session skeleton with its
// media callbacks wired. Caller holds c.mu.
func (c *Controller) startSessionLocked(ctx context.Context, remoteParty string, role Role, kind history.Kind) (*Session, error) {
	tracks, err := c.capture.Acquire(kind == history.KindVideo)
	if err != nil {
		return nil, err
	}

	media, err := c.factory.NewSession(tracks)
	if err != nil {
		tracks.Release()
		return nil, fmt.Errorf("callsession: create media session: %w", err)
	}

	sess := &Session{
		ID:          uuid.New().String(),
		LocalParty:  c.identity,
		RemoteParty: remoteParty,
		Role:        role,
		Kind:        kind,
		state:       StateIdle,
		tracks:      tracks,
		media:       media,
	}

	media.OnLocalCandidate(func(payload json.RawMessage) {
		c.sendCandidate(sess, payload)
	})
	media.OnConnectionState(func(cs ConnState) {
		c.onConnState(sess, cs)
	})

	return sess, nil
}

func (c *Controller) handleOffer(ctx context.Context, msg signal.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess := c.session; sess != nil && !sess.State().Terminal() {
		glare := sess.Role == RoleCaller &&
			sess.State() == StateDialing &&
			sess.RemoteParty == msg.From
		if !glare {
			// Busy with an unrelated call, or a duplicate offer for a session
			// that already progressed. Ignore.
			return nil
		}
		// Both sides dialed each other. Deterministic tie-break: the
		// lexicographically smaller identity's offer wins. If ours wins we
		// ignore theirs and keep dialing; otherwise the dial is abandoned
		// without a record and their offer is answered below.
		if c.identity < msg.From {
			c.log.Debug("glare: local offer wins, ignoring remote offer", "remote", msg.From)
			return nil
		}
		c.log.Debug("glare: remote offer wins, abandoning local dial", "remote", msg.From)
		c.discard(sess)
	}

	kind := history.KindAudio
	if strings.Contains(string(msg.Payload), "m=video") {
		kind = history.KindVideo
	}

	sess, err := c.startSessionLocked(ctx, msg.From, RoleCallee, kind)
	if err != nil {
		return err
	}

	answer, err := sess.media.AcceptOffer(ctx, msg.Payload)
	if err != nil {
		c.discard(sess)
		return fmt.Errorf("callsession: accept offer: %w", err)
	}
	if err := c.send(ctx, msg.From, signal.KindAnswer, answer); err != nil {
		c.discard(sess)
		return fmt.Errorf("callsession: send answer: %w", err)
	}

	sess.mu.Lock()
	sess.state = StateRinging
	sess.startedAt = c.clock.Now()
	sess.mu.Unlock()

	c.session = sess
	c.log.Info("incoming call answered", "remote", msg.From, "kind", string(kind), "session_id", sess.ID)

	if c.onIncoming != nil {
		c.onIncoming(sess)
	}
	return nil
}

func (c *Controller) handleAnswer(ctx context.Context, msg signal.Message) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil || sess.Role != RoleCaller || sess.RemoteParty != msg.From {
		return nil
	}

	sess.mu.Lock()
	if sess.state != StateDialing {
		sess.mu.Unlock()
		return nil
	}
	sess.mu.Unlock()

	if err := sess.media.AcceptAnswer(msg.Payload); err != nil {
		c.log.Error("failed to apply answer", "session_id", sess.ID, "err", err)
		c.terminate(ctx, sess, StateFailed, history.OutcomeMissed)
		return fmt.Errorf("callsession: accept answer: %w", err)
	}

	sess.mu.Lock()
	if sess.state == StateDialing {
		sess.state = StateConnected
		sess.connectedAt = c.clock.Now()
	}
	sess.mu.Unlock()

	c.log.Info("call connected", "session_id", sess.ID)
	return nil
}

func (c *Controller) handleCandidate(msg signal.Message) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	// Candidates may arrive slightly before the answer or after teardown;
	// apply when a live session matches, drop silently otherwise.
	if sess == nil || sess.RemoteParty != msg.From || sess.State().Terminal() {
		return
	}
	if err := sess.media.AddRemoteCandidate(msg.Payload); err != nil {
		c.log.Warn("failed to apply remote candidate", "session_id", sess.ID, "err", err)
	}
}

func (c *Controller) sendCandidate(sess *Session, payload json.RawMessage) {
	if sess.State().Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.send(ctx, sess.RemoteParty, signal.KindCandidate, payload); err != nil {
		// The remote side can still connect via candidates already exchanged;
		// log and move on.
		c.log.Warn("failed to send local candidate", "session_id", sess.ID, "err", err)
	}
}

func (c *Controller) onConnState(sess *Session, cs ConnState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cs {
	case ConnConnected:
		sess.mu.Lock()
		if sess.state == StateRinging || sess.state == StateDialing {
			sess.state = StateConnected
			sess.connectedAt = c.clock.Now()
			c.log.Info("call connected", "session_id", sess.ID)
		}
		sess.mu.Unlock()
	case ConnDisconnected, ConnFailed:
		sess.mu.Lock()
		state := sess.state
		sess.mu.Unlock()
		switch state {
		case StateConnected:
			// Transport dropped or the remote party hung up; the call
			// happened, so it still counts as completed.
			c.terminate(ctx, sess, StateEnded, history.OutcomeCompleted)
		case StateDialing:
			c.terminate(ctx, sess, StateFailed, history.OutcomeMissed)
		case StateRinging:
			c.terminate(ctx, sess, StateFailed, history.OutcomeDeclined)
		}
	}
}

func (c *Controller) send(ctx context.Context, to string, kind signal.Kind, payload json.RawMessage) error {
	return c.transport.Send(ctx, signal.Message{
		From:    c.identity,
		To:      to,
		Kind:    kind,
		Payload: payload,
	})
}

// terminate moves sess to a terminal state, releases its media synchronously,
// clears the local mailbox, and writes exactly one history record.
func (c *Controller) terminate(ctx context.Context, sess *Session, to State, outcome history.Outcome) {
	now := c.clock.Now()

	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return
	}
	sess.state = to
	sess.endedAt = now

	var duration int64
	if !sess.connectedAt.IsZero() {
		duration = int64(now.Sub(sess.connectedAt).Seconds())
	}
	startedAt := sess.startedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	record := !sess.recorded
	sess.recorded = true
	tracks, media := sess.tracks, sess.media
	sess.mu.Unlock()

	if tracks != nil {
		tracks.Release()
	}
	if media != nil {
		_ = media.Close()
	}

	if err := c.transport.Clear(ctx, c.identity); err != nil {
		c.log.Warn("failed to clear mailbox on teardown", "err", err)
	}

	if record {
		rec := history.Record{
			Caller:          sess.caller(),
			Recipient:       sess.callee(),
			Kind:            sess.Kind,
			DurationSeconds: duration,
			StartedAt:       startedAt,
			Outcome:         outcome,
		}
		if _, err := c.recorder.Append(ctx, rec); err != nil {
			// History never blocks teardown.
			c.log.Error("history write failed", "session_id", sess.ID, "err", err)
		}
	}

	c.log.Info("call ended",
		"session_id", sess.ID,
		"state", string(to),
		"outcome", string(outcome),
		"duration_s", duration,
	)
}

// discard abandons a session that must leave no trace: media is released and
// closed, the state goes terminal, but no history record is written and the
// mailbox is left alone. Used for failed call starts and glare resolution.
func (c *Controller) discard(sess *Session) {
	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return
	}
	sess.state = StateEnded
	sess.endedAt = c.clock.Now()
	sess.recorded = true
	tracks, media := sess.tracks, sess.media
	sess.mu.Unlock()

	if tracks != nil {
		tracks.Release()
	}
	if media != nil {
		_ = media.Close()
	}
}
