// Package mailbox implements the per-identity signal inbox.
//
// Each identity owns one FIFO queue. Send appends, Poll atomically drains the
// whole queue (delivery is destructive, at-most-once), and Clear empties it
// without delivering. Two backends exist: an in-process store for single-node
// deployments and tests, and a Redis store for running several callbox nodes
// against one shared mailbox.
package mailbox

import (
	"context"
	"errors"

	"github.com/veldt-labs/callbox/internal/signal"
)

var (
	// ErrMailboxFull is returned by Send when the recipient's queue is at
	// capacity. The caller decides whether to surface it or drop silently.
	ErrMailboxFull = errors.New("mailbox: recipient queue full")
)

// Store is the mailbox persistence contract.
//
// Poll must be atomic with respect to concurrent Send and Poll calls: a
// message is returned by exactly one Poll or removed by exactly one Clear,
// never both.
type Store interface {
	// Send enqueues msg for msg.To, stamping CreatedAt and Seq.
	Send(ctx context.Context, msg signal.Message) (signal.Message, error)

	// Poll removes and returns all queued messages for identity in send
	// order. An empty inbox yields an empty slice, not an error.
	Poll(ctx context.Context, identity string) ([]signal.Message, error)

	// Clear discards identity's queue and reports how many messages were
	// dropped.
	Clear(ctx context.Context, identity string) (int, error)

	Close() error
}
