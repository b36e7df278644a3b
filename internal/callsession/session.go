package callsession

import (
	"sync"
	"time"

	"github.com/veldt-labs/callbox/internal/history"
)

// State is the lifecycle position of one call attempt.
type State string

const (
	StateIdle      State = "idle"
	StateDialing   State = "dialing"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
	StateEnded     State = "ended"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

// Role is fixed at session creation and never flips.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Session is one client's live view of a call attempt. All mutation happens
// under the controller's lock; the exported accessors take the session lock
// so the UI can read state concurrently.
type Session struct {
	ID          string
	LocalParty  string
	RemoteParty string
	Role        Role
	Kind        history.Kind

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	connectedAt    time.Time
	endedAt        time.Time
	answerDeadline time.Time

	tracks   MediaTracks
	media    MediaSession
	recorded bool
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// caller and callee resolve the history record parties from the fixed role.
func (s *Session) caller() string {
	if s.Role == RoleCaller {
		return s.LocalParty
	}
	return s.RemoteParty
}

func (s *Session) callee() string {
	if s.Role == RoleCaller {
		return s.RemoteParty
	}
	return s.LocalParty
}
