package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/mediasession"
	"github.com/veldt-labs/callbox/internal/signal"
)

// fakeTransport is an in-memory mailbox shared by both parties in a test.
type fakeTransport struct {
	mu      sync.Mutex
	boxes   map[string][]signal.Message
	sends   []signal.Message
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{boxes: make(map[string][]signal.Message)}
}

func (t *fakeTransport) Send(ctx context.Context, msg signal.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sends = append(t.sends, msg)
	t.boxes[msg.To] = append(t.boxes[msg.To], msg)
	return nil
}

func (t *fakeTransport) Poll(ctx context.Context, identity string) ([]signal.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.boxes[identity]
	delete(t.boxes, identity)
	return msgs, nil
}

func (t *fakeTransport) Clear(ctx context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.boxes, identity)
	return nil
}

func (t *fakeTransport) sentKinds(from string) []signal.Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	var kinds []signal.Kind
	for _, m := range t.sends {
		if m.From == from {
			kinds = append(kinds, m.Kind)
		}
	}
	return kinds
}

type fakeTracks struct {
	mu       sync.Mutex
	audioOn  bool
	videoOn  bool
	released bool
}

func (f *fakeTracks) ToggleAudio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioOn = !f.audioOn
	return !f.audioOn
}

func (f *fakeTracks) ToggleVideo() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoOn = !f.videoOn
	return !f.videoOn
}

func (f *fakeTracks) AudioEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioOn && !f.released
}

func (f *fakeTracks) VideoEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoOn && !f.released
}

func (f *fakeTracks) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeTracks) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeCapture struct {
	mu       sync.Mutex
	fail     bool
	acquired []*fakeTracks
}

func (f *fakeCapture) Acquire(withVideo bool) (MediaTracks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, mediasession.ErrMediaUnavailable
	}
	tracks := &fakeTracks{audioOn: true, videoOn: withVideo}
	f.acquired = append(f.acquired, tracks)
	return tracks, nil
}

type fakeMedia struct {
	mu          sync.Mutex
	onCandidate func(json.RawMessage)
	onConn      func(ConnState)
	candidates  []string
	answered    bool
	closed      bool
	sdpLabel    string
}

func (f *fakeMedia) OnLocalCandidate(fn func(json.RawMessage)) { f.onCandidate = fn }

func (f *fakeMedia) OnConnectionState(fn func(ConnState)) { f.onConn = fn }

func (f *fakeMedia) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":"v=0 %s m=video"}`, f.sdpLabel)), nil
}

func (f *fakeMedia) AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","sdp":"v=0 %s"}`, f.sdpLabel)), nil
}

func (f *fakeMedia) AcceptAnswer(answer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = true
	return nil
}

func (f *fakeMedia) AddRemoteCandidate(candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, string(candidate))
	return nil
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMedia) fireConn(cs ConnState) {
	f.mu.Lock()
	fn := f.onConn
	f.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

func (f *fakeMedia) emitCandidate(payload string) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(json.RawMessage(payload))
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeMedia
	label    string
}

func (f *fakeFactory) NewSession(tracks MediaTracks) (MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMedia{sdpLabel: f.label}
	f.sessions = append(f.sessions, m)
	return m, nil
}

func (f *fakeFactory) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []history.Record
	fail    bool
}

func (f *fakeRecorder) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return history.Record{}, errors.New("sink down")
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeRecorder) all() []history.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]history.Record, len(f.records))
	copy(out, f.records)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type party struct {
	ctrl     *Controller
	capture  *fakeCapture
	factory  *fakeFactory
	recorder *fakeRecorder
}

func newParty(identity string, transport Transport, clock *fakeClock) *party {
	capture := &fakeCapture{}
	factory := &fakeFactory{label: identity}
	recorder := &fakeRecorder{}
	ctrl := NewController(identity, transport, capture, factory, recorder, Options{
		Clock:         clock,
		AnswerTimeout: 30 * time.Second,
	})
	return &party{ctrl: ctrl, capture: capture, factory: factory, recorder: recorder}
}

// pump drains identity's mailbox into its controller and runs one tick, the
// way the poll task does.
func pump(t *testing.T, transport *fakeTransport, p *party, identity string) {
	t.Helper()
	ctx := context.Background()
	msgs, err := transport.Poll(ctx, identity)
	if err != nil {
		t.Fatalf("poll %s: %v", identity, err)
	}
	for _, m := range msgs {
		if err := p.ctrl.HandleSignal(ctx, m); err != nil {
			t.Fatalf("handle signal for %s: %v", identity, err)
		}
	}
	p.ctrl.Tick(ctx)
}

func TestPlaceCall_OfferReachesCalleeAndAnswerConnects(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	bob := newParty("bob", transport, clock)

	sess, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if sess.State() != StateDialing || sess.Role != RoleCaller {
		t.Fatalf("state=%s role=%s, want dialing caller", sess.State(), sess.Role)
	}

	// Bob discovers the offer and answers.
	pump(t, transport, bob, "bob")
	bobSess := bob.ctrl.Session()
	if bobSess == nil || bobSess.State() != StateRinging || bobSess.Role != RoleCallee {
		t.Fatalf("bob session=%+v, want ringing callee", bobSess)
	}
	if bobSess.Kind != history.KindVideo {
		t.Fatalf("bob inferred kind=%s, want video", bobSess.Kind)
	}

	// Alice discovers the answer.
	pump(t, transport, alice, "alice")
	if sess.State() != StateConnected {
		t.Fatalf("alice state=%s, want connected", sess.State())
	}
	if !alice.factory.last().answered {
		t.Fatal("answer was not applied to alice's media session")
	}

	// Bob's transport reports connected.
	bob.factory.last().fireConn(ConnConnected)
	if bobSess.State() != StateConnected {
		t.Fatalf("bob state=%s, want connected", bobSess.State())
	}

	// Role invariant: exactly one caller, offer originated from the caller.
	kinds := transport.sentKinds("alice")
	if len(kinds) == 0 || kinds[0] != signal.KindOffer {
		t.Fatalf("alice sent %v, want offer first", kinds)
	}
}

func TestDialTimeout_EndsMissed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)

	sess, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	clock.Advance(31 * time.Second)
	alice.ctrl.Tick(ctx)

	if sess.State() != StateEnded {
		t.Fatalf("state=%s, want ended", sess.State())
	}
	records := alice.recorder.all()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != history.OutcomeMissed || rec.Caller != "alice" || rec.Recipient != "bob" {
		t.Fatalf("record=%+v, want missed alice->bob", rec)
	}
	if !alice.capture.acquired[0].Released() {
		t.Fatal("tracks not released after timeout")
	}
}

func TestGlare_SmallerIdentityOfferWins(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	bob := newParty("bob", transport, clock)

	if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
		t.Fatalf("alice PlaceCall: %v", err)
	}
	if _, err := bob.ctrl.PlaceCall(ctx, "alice", history.KindVideo); err != nil {
		t.Fatalf("bob PlaceCall: %v", err)
	}

	// Bob sees alice's offer; "alice" < "bob" so bob abandons his dial and
	// answers as callee.
	pump(t, transport, bob, "bob")
	bobSess := bob.ctrl.Session()
	if bobSess.Role != RoleCallee || bobSess.State() != StateRinging {
		t.Fatalf("bob session role=%s state=%s, want callee ringing", bobSess.Role, bobSess.State())
	}

	// Alice sees bob's stale offer (ignored) then bob's answer (connects).
	pump(t, transport, alice, "alice")
	aliceSess := alice.ctrl.Session()
	if aliceSess.Role != RoleCaller || aliceSess.State() != StateConnected {
		t.Fatalf("alice session role=%s state=%s, want caller connected", aliceSess.Role, aliceSess.State())
	}

	bob.factory.last().fireConn(ConnConnected)
	if bobSess.State() != StateConnected {
		t.Fatalf("bob state=%s, want connected", bobSess.State())
	}

	// No records while the resolved session is live; one per side at end,
	// both describing the same resolved session (alice calling bob).
	if n := len(alice.recorder.all()) + len(bob.recorder.all()); n != 0 {
		t.Fatalf("%d records written before teardown, want 0", n)
	}

	alice.ctrl.EndCall(ctx)
	bob.ctrl.EndCall(ctx)

	for name, p := range map[string]*party{"alice": alice, "bob": bob} {
		records := p.recorder.all()
		if len(records) != 1 {
			t.Fatalf("%s wrote %d records, want 1", name, len(records))
		}
		rec := records[0]
		if rec.Caller != "alice" || rec.Recipient != "bob" || rec.Outcome != history.OutcomeCompleted {
			t.Fatalf("%s record=%+v, want completed alice->bob", name, rec)
		}
	}
}

func TestToggleMute_LocalOnly(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	bob := newParty("bob", transport, clock)

	sess, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	pump(t, transport, bob, "bob")
	pump(t, transport, alice, "alice")
	if sess.State() != StateConnected {
		t.Fatalf("state=%s, want connected", sess.State())
	}

	sendsBefore := len(transport.sentKinds("alice"))
	if muted := alice.ctrl.ToggleMute(); !muted {
		t.Fatal("ToggleMute must report muted")
	}
	if alice.capture.acquired[0].AudioEnabled() {
		t.Fatal("audio still enabled after mute")
	}
	if got := len(transport.sentKinds("alice")); got != sendsBefore {
		t.Fatalf("ToggleMute sent %d signaling messages, want 0", got-sendsBefore)
	}
	if sess.State() != StateConnected {
		t.Fatalf("state=%s after mute, want connected", sess.State())
	}
}

func TestEndCall_Idempotent(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	bob := newParty("bob", transport, clock)

	if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	pump(t, transport, bob, "bob")
	pump(t, transport, alice, "alice")

	clock.Advance(42 * time.Second)
	alice.ctrl.EndCall(ctx)
	alice.ctrl.EndCall(ctx)

	records := alice.recorder.all()
	if len(records) != 1 {
		t.Fatalf("got %d records after double EndCall, want 1", len(records))
	}
	if records[0].Outcome != history.OutcomeCompleted || records[0].DurationSeconds != 42 {
		t.Fatalf("record=%+v, want completed with 42s duration", records[0])
	}
}

func TestEndCall_PreConnect(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}

	t.Run("caller cancels while dialing", func(t *testing.T) {
		transport := newFakeTransport()
		alice := newParty("alice", transport, clock)
		if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
			t.Fatalf("PlaceCall: %v", err)
		}
		alice.ctrl.EndCall(ctx)

		records := alice.recorder.all()
		if len(records) != 1 || records[0].Outcome != history.OutcomeMissed {
			t.Fatalf("records=%+v, want one missed", records)
		}
		if !alice.capture.acquired[0].Released() {
			t.Fatal("tracks not released")
		}
	})

	t.Run("callee declines while ringing", func(t *testing.T) {
		transport := newFakeTransport()
		alice := newParty("alice", transport, clock)
		bob := newParty("bob", transport, clock)
		if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
			t.Fatalf("PlaceCall: %v", err)
		}
		pump(t, transport, bob, "bob")
		bob.ctrl.EndCall(ctx)

		records := bob.recorder.all()
		if len(records) != 1 || records[0].Outcome != history.OutcomeDeclined {
			t.Fatalf("records=%+v, want one declined", records)
		}
		if records[0].Caller != "alice" || records[0].Recipient != "bob" {
			t.Fatalf("record=%+v, want alice->bob", records[0])
		}
	})
}

func TestMediaUnavailable_AbortsBeforeSignaling(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	alice.capture.fail = true

	if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); !errors.Is(err, mediasession.ErrMediaUnavailable) {
		t.Fatalf("err=%v, want ErrMediaUnavailable", err)
	}
	if len(transport.sentKinds("alice")) != 0 {
		t.Fatal("no signal may be sent when media acquisition fails")
	}
	if alice.ctrl.Session() != nil {
		t.Fatal("session must never leave idle on media failure")
	}
	if len(alice.recorder.all()) != 0 {
		t.Fatal("no record may be written on media failure")
	}
}

func TestTransportFailure_WhileDialingFails(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)

	sess, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	alice.factory.last().fireConn(ConnFailed)

	if sess.State() != StateFailed {
		t.Fatalf("state=%s, want failed", sess.State())
	}
	records := alice.recorder.all()
	if len(records) != 1 || records[0].Outcome != history.OutcomeMissed {
		t.Fatalf("records=%+v, want one missed", records)
	}
	if !alice.capture.acquired[0].Released() {
		t.Fatal("tracks not released after transport failure")
	}
	if !alice.factory.last().closed {
		t.Fatal("media session not closed after transport failure")
	}
}

func TestCandidates_ExchangedAndSuppressedAfterEnd(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	bob := newParty("bob", transport, clock)

	if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	pump(t, transport, bob, "bob")

	// Local candidates flow out while the session is live, even pre-answer.
	alice.factory.last().emitCandidate(`{"candidate":"a-host"}`)
	pump(t, transport, bob, "bob")
	if got := bob.factory.last().candidates; len(got) != 1 {
		t.Fatalf("bob applied %d candidates, want 1", len(got))
	}

	pump(t, transport, alice, "alice")
	alice.ctrl.EndCall(ctx)

	// After teardown, locally discovered candidates are suppressed and late
	// inbound candidates are ignored.
	sendsBefore := len(transport.sentKinds("alice"))
	alice.factory.last().emitCandidate(`{"candidate":"late"}`)
	if got := len(transport.sentKinds("alice")); got != sendsBefore {
		t.Fatal("candidate sent after terminal state")
	}

	if err := alice.ctrl.HandleSignal(ctx, signal.Message{
		From: "bob", To: "alice", Kind: signal.KindCandidate,
		Payload: json.RawMessage(`{"candidate":"late-inbound"}`),
	}); err != nil {
		t.Fatalf("late candidate must be ignored, got %v", err)
	}
}

func TestPlaceCall_BusyWithLiveSession(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)

	if _, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if _, err := alice.ctrl.PlaceCall(ctx, "carol", history.KindVideo); !errors.Is(err, ErrBusy) {
		t.Fatalf("second PlaceCall err=%v, want ErrBusy", err)
	}

	// After teardown a new call may start.
	alice.ctrl.EndCall(ctx)
	if _, err := alice.ctrl.PlaceCall(ctx, "carol", history.KindVideo); err != nil {
		t.Fatalf("PlaceCall after teardown: %v", err)
	}
}

func TestHistoryWriteFailure_DoesNotBlockTeardown(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	transport := newFakeTransport()
	alice := newParty("alice", transport, clock)
	alice.recorder.fail = true

	sess, err := alice.ctrl.PlaceCall(ctx, "bob", history.KindVideo)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	alice.ctrl.EndCall(ctx)

	if sess.State() != StateEnded {
		t.Fatalf("state=%s, want ended despite history failure", sess.State())
	}
	if !alice.capture.acquired[0].Released() {
		t.Fatal("tracks not released despite history failure")
	}
}
