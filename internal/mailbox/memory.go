package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/veldt-labs/callbox/internal/ratelimit"
	"github.com/veldt-labs/callbox/internal/signal"
)

// MemoryStore keeps every inbox in process memory. Messages expire after TTL
// so inboxes for identities that stopped polling do not pin memory; expiry is
// applied lazily on the next operation touching the inbox.
type MemoryStore struct {
	clock ratelimit.Clock
	ttl   time.Duration
	cap   int

	mu      sync.Mutex
	seq     uint64
	inboxes map[string][]signal.Message
}

type MemoryOptions struct {
	Clock ratelimit.Clock
	// TTL <= 0 disables expiry.
	TTL time.Duration
	// MaxQueued <= 0 disables the per-identity cap.
	MaxQueued int
}

func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	return &MemoryStore{
		clock:   opts.Clock,
		ttl:     opts.TTL,
		cap:     opts.MaxQueued,
		inboxes: make(map[string][]signal.Message),
	}
}

func (s *MemoryStore) Send(ctx context.Context, msg signal.Message) (signal.Message, error) {
	if err := msg.Validate(); err != nil {
		return signal.Message{}, err
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pruneLocked(msg.To, now)
	if s.cap > 0 && len(queue) >= s.cap {
		return signal.Message{}, ErrMailboxFull
	}

	s.seq++
	msg.Seq = s.seq
	msg.CreatedAt = now

	s.inboxes[msg.To] = append(queue, msg)
	return msg, nil
}

func (s *MemoryStore) Poll(ctx context.Context, identity string) ([]signal.Message, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pruneLocked(identity, now)
	delete(s.inboxes, identity)

	out := make([]signal.Message, len(queue))
	copy(out, queue)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, identity string) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pruneLocked(identity, now)
	delete(s.inboxes, identity)
	return len(queue), nil
}

func (s *MemoryStore) Close() error { return nil }

// pruneLocked drops expired messages from identity's queue and returns the
// surviving slice. FIFO order means expired messages form a prefix.
func (s *MemoryStore) pruneLocked(identity string, now time.Time) []signal.Message {
	queue := s.inboxes[identity]
	if s.ttl <= 0 || len(queue) == 0 {
		return queue
	}

	cutoff := now.Add(-s.ttl)
	keep := 0
	for keep < len(queue) && !queue[keep].CreatedAt.After(cutoff) {
		keep++
	}
	if keep == 0 {
		return queue
	}

	queue = queue[keep:]
	if len(queue) == 0 {
		delete(s.inboxes, identity)
		return nil
	}
	s.inboxes[identity] = queue
	return queue
}
