// Package history is the append-only log of terminated call attempts.
//
// Records are best-effort: the session controller logs and swallows write
// failures so history never blocks or rolls back call teardown.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies how a call attempt ended.
type Outcome string

const (
	// OutcomeCompleted means the call reached connected before ending.
	OutcomeCompleted Outcome = "completed"
	// OutcomeMissed means the callee never answered, or the caller gave up
	// before the call connected.
	OutcomeMissed Outcome = "missed"
	// OutcomeDeclined means the callee ended the call before it connected.
	OutcomeDeclined Outcome = "declined"
)

// Kind is the media shape of the call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var ErrInvalidRecord = errors.New("history: invalid record")

// Record is one terminated call attempt. ID is assigned by the store.
type Record struct {
	ID              string    `json:"id"`
	Caller          string    `json:"caller"`
	Recipient       string    `json:"recipient"`
	Kind            Kind      `json:"type"`
	DurationSeconds int64     `json:"duration"`
	StartedAt       time.Time `json:"startedAt"`
	Outcome         Outcome   `json:"status"`
}

func (r Record) Validate() error {
	if r.Caller == "" {
		return fmt.Errorf("%w: missing caller", ErrInvalidRecord)
	}
	if r.Recipient == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidRecord)
	}
	switch r.Kind {
	case KindAudio, KindVideo:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, string(r.Kind))
	}
	switch r.Outcome {
	case OutcomeCompleted, OutcomeMissed, OutcomeDeclined:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRecord, string(r.Outcome))
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidRecord)
	}
	return nil
}

// Store persists call records.
type Store interface {
	// Append writes one record and returns it with its assigned ID.
	Append(ctx context.Context, rec Record) (Record, error)

	// ListFor returns every record where identity is caller or recipient,
	// newest first.
	ListFor(ctx context.Context, identity string) ([]Record, error)

	Close() error
}
