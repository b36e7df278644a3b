package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/veldt-labs/callbox/internal/signal"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func msg(from, to string, kind signal.Kind, payload string) signal.Message {
	return signal.Message{From: from, To: to, Kind: kind, Payload: json.RawMessage(payload)}
}

func TestMemoryStore_FIFOAndDestructivePoll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Clock: &fakeClock{now: time.Unix(1000, 0)}})

	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"sdp":"offer-%d"}`, i)
		if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, payload)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	got, err := s.Poll(ctx, "bob")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Poll returned %d messages, want 3", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf(`{"sdp":"offer-%d"}`, i)
		if string(m.Payload) != want {
			t.Fatalf("message %d payload=%s, want %s", i, m.Payload, want)
		}
		if i > 0 && got[i].Seq <= got[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", got[i-1].Seq, got[i].Seq)
		}
	}

	// Delivery is destructive.
	again, err := s.Poll(ctx, "bob")
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Poll returned %d messages, want 0", len(again))
	}
}

func TestMemoryStore_PollIsPerIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Clock: &fakeClock{now: time.Unix(1000, 0)}})

	if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"x"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Send(ctx, msg("bob", "carol", signal.KindOffer, `{"sdp":"y"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := s.Poll(ctx, "carol")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || got[0].From != "bob" {
		t.Fatalf("carol's inbox=%+v, want 1 message from bob", got)
	}

	got, err = s.Poll(ctx, "bob")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || got[0].From != "alice" {
		t.Fatalf("bob's inbox=%+v, want 1 message from alice", got)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Clock: &fakeClock{now: time.Unix(1000, 0)}})

	for i := 0; i < 2; i++ {
		if _, err := s.Send(ctx, msg("alice", "bob", signal.KindCandidate, `{"candidate":"c"}`)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	n, err := s.Clear(ctx, "bob")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("Clear dropped %d, want 2", n)
	}

	got, err := s.Poll(ctx, "bob")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Poll after Clear returned %d messages, want 0", len(got))
	}

	// Clearing an empty inbox is fine.
	if n, err := s.Clear(ctx, "bob"); err != nil || n != 0 {
		t.Fatalf("Clear(empty)=(%d, %v), want (0, nil)", n, err)
	}
}

func TestMemoryStore_CapacityLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryOptions{Clock: &fakeClock{now: time.Unix(1000, 0)}, MaxQueued: 2})

	for i := 0; i < 2; i++ {
		if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"x"}`)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"x"}`)); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("Send over cap err=%v, want ErrMailboxFull", err)
	}

	// Other identities are unaffected.
	if _, err := s.Send(ctx, msg("alice", "carol", signal.KindOffer, `{"sdp":"x"}`)); err != nil {
		t.Fatalf("Send to carol: %v", err)
	}

	// Draining frees capacity.
	if _, err := s.Poll(ctx, "bob"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"x"}`)); err != nil {
		t.Fatalf("Send after drain: %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(MemoryOptions{Clock: clock, TTL: time.Minute})

	if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"old"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clock.Advance(30 * time.Second)
	if _, err := s.Send(ctx, msg("alice", "bob", signal.KindOffer, `{"sdp":"fresh"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clock.Advance(31 * time.Second)
	got, err := s.Poll(ctx, "bob")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || string(got[0].Payload) != `{"sdp":"fresh"}` {
		t.Fatalf("Poll=%+v, want only the fresh message", got)
	}
}

func TestMemoryStore_RejectsInvalidMessage(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	if _, err := s.Send(context.Background(), msg("", "bob", signal.KindOffer, `{}`)); !errors.Is(err, signal.ErrInvalidMessage) {
		t.Fatalf("err=%v, want ErrInvalidMessage", err)
	}
}
