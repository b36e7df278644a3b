package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/veldt-labs/callbox/internal/callsession"
	"github.com/veldt-labs/callbox/internal/signal"
)

// SignalHandler consumes drained mailbox messages and time-based transitions.
// *callsession.Controller satisfies it.
type SignalHandler interface {
	HandleSignal(ctx context.Context, msg signal.Message) error
	Tick(ctx context.Context)
}

// Poller is the client-side delivery loop: every interval it drains the
// identity's mailbox through the transport, feeds each message to the
// handler, and ticks the handler's clock-driven transitions. Transient
// transport errors are logged and retried on the next interval.
type Poller struct {
	log       *slog.Logger
	transport callsession.Transport
	handler   SignalHandler
	identity  string
	interval  time.Duration
}

func NewPoller(transport callsession.Transport, handler SignalHandler, identity string, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		log:       logger.With("identity", identity),
		transport: transport,
		handler:   handler,
		identity:  identity,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			msgs, err := p.transport.Poll(ctx, p.identity)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Warn("mailbox poll failed", "err", err)
				continue
			}
			for _, msg := range msgs {
				if err := p.handler.HandleSignal(ctx, msg); err != nil {
					p.log.Warn("signal handling failed", "type", string(msg.Kind), "from", msg.From, "err", err)
				}
			}
			p.handler.Tick(ctx)
		}
	}
}
