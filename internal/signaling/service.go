// Package signaling exposes the mailbox and call-history REST surface plus
// the WebSocket push binding.
//
// Routes:
//
//	POST   /signal             enqueue one signaling message
//	GET    /signal?username=u  atomically drain u's inbox
//	DELETE /signal?username=u  discard u's inbox
//	GET    /calls?username=u   list u's call history, newest first
//	POST   /calls              append one call record
//	GET    /ws?username=u      stream u's inbox over a WebSocket
package signaling

import (
	"log/slog"
	"net/http"

	"github.com/veldt-labs/callbox/internal/auth"
	"github.com/veldt-labs/callbox/internal/config"
	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/httpserver"
	"github.com/veldt-labs/callbox/internal/mailbox"
	"github.com/veldt-labs/callbox/internal/metrics"
	"github.com/veldt-labs/callbox/internal/ratelimit"
)

type Service struct {
	log     *slog.Logger
	cfg     config.Config
	store   mailbox.Store
	hist    history.Store
	reg     *metrics.Metrics
	limiter *ratelimit.KeyedLimiter
}

func NewService(cfg config.Config, logger *slog.Logger, store mailbox.Store, hist history.Store, reg *metrics.Metrics) *Service {
	return &Service{
		log:     logger,
		cfg:     cfg,
		store:   store,
		hist:    hist,
		reg:     reg,
		limiter: ratelimit.NewKeyedLimiter(nil, cfg.SendBurstPerIdentity, cfg.SendRatePerIdentity),
	}
}

// RegisterRoutes attaches the signaling routes to mux. Every route passes
// through the supplied middleware (origin policy, then auth) before reaching
// its handler.
func (s *Service) RegisterRoutes(mux *http.ServeMux, verifier auth.Verifier, mw ...httpserver.Middleware) {
	wrap := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		handler = auth.Middleware(s.cfg.AuthMode, verifier)(handler)
		for i := len(mw) - 1; i >= 0; i-- {
			handler = mw[i](handler)
		}
		return handler
	}

	mux.Handle("POST /signal", wrap(s.handleSend))
	mux.Handle("GET /signal", wrap(s.handlePoll))
	mux.Handle("DELETE /signal", wrap(s.handleClear))
	mux.Handle("GET /calls", wrap(s.handleListCalls))
	mux.Handle("POST /calls", wrap(s.handleAppendCall))
	mux.Handle("GET /ws", wrap(s.handleWS))
}

// authorizeIdentity enforces that a caller may only act as the identity its
// token binds. In apikey/none modes identities are taken at face value.
func (s *Service) authorizeIdentity(r *http.Request, claimed string) bool {
	if s.cfg.AuthMode != config.AuthModeJWT {
		return true
	}
	return auth.IdentityFromContext(r.Context()) == claimed
}
