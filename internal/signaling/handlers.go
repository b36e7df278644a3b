package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/veldt-labs/callbox/internal/history"
	"github.com/veldt-labs/callbox/internal/httpserver"
	"github.com/veldt-labs/callbox/internal/mailbox"
	"github.com/veldt-labs/callbox/internal/metrics"
	"github.com/veldt-labs/callbox/internal/signal"
)

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxSignalBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reg.Inc(metrics.SignalsRejected)
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		httpserver.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	msg, err := signal.Parse(body)
	if err != nil {
		s.reg.Inc(metrics.SignalsRejected)
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.authorizeIdentity(r, msg.From) {
		httpserver.WriteError(w, http.StatusForbidden, "from does not match authenticated identity")
		return
	}

	if !s.limiter.Allow(msg.From) {
		s.reg.Inc(metrics.SignalsRateLimited)
		httpserver.WriteError(w, http.StatusTooManyRequests, "sender rate limit exceeded")
		return
	}

	stored, err := s.store.Send(r.Context(), msg)
	if err != nil {
		if errors.Is(err, mailbox.ErrMailboxFull) {
			s.reg.Inc(metrics.SignalsDroppedFull)
			httpserver.WriteError(w, http.StatusServiceUnavailable, "recipient mailbox full")
			return
		}
		s.log.Error("mailbox send failed", "from", msg.From, "to", msg.To, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to enqueue signal")
		return
	}

	s.reg.Inc(metrics.SignalsAccepted)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "seq": stored.Seq})
}

func (s *Service) handlePoll(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !s.authorizeIdentity(r, username) {
		httpserver.WriteError(w, http.StatusForbidden, "username does not match authenticated identity")
		return
	}

	msgs, err := s.store.Poll(r.Context(), username)
	if err != nil {
		s.log.Error("mailbox poll failed", "username", username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to poll mailbox")
		return
	}

	s.reg.Inc(metrics.MailboxPolls)
	s.reg.Add(metrics.SignalsDelivered, uint64(len(msgs)))
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"signals": msgs})
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !s.authorizeIdentity(r, username) {
		httpserver.WriteError(w, http.StatusForbidden, "username does not match authenticated identity")
		return
	}

	n, err := s.store.Clear(r.Context(), username)
	if err != nil {
		s.log.Error("mailbox clear failed", "username", username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to clear mailbox")
		return
	}

	s.reg.Inc(metrics.MailboxClears)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (s *Service) handleListCalls(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !s.authorizeIdentity(r, username) {
		httpserver.WriteError(w, http.StatusForbidden, "username does not match authenticated identity")
		return
	}

	records, err := s.hist.ListFor(r.Context(), username)
	if err != nil {
		s.log.Error("history list failed", "username", username, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Service) handleAppendCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxSignalBodyBytes))
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var rec history.Record
	if err := dec.Decode(&rec); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid call record")
		return
	}
	if err := rec.Validate(); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.authorizeIdentity(r, rec.Caller) && !s.authorizeIdentity(r, rec.Recipient) {
		httpserver.WriteError(w, http.StatusForbidden, "record does not involve authenticated identity")
		return
	}

	stored, err := s.hist.Append(r.Context(), rec)
	if err != nil {
		s.reg.Inc(metrics.HistoryWriteFailures)
		s.log.Error("history append failed", "caller", rec.Caller, "recipient", rec.Recipient, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to append call record")
		return
	}

	switch stored.Outcome {
	case history.OutcomeCompleted:
		s.reg.Inc(metrics.CallsCompleted)
	case history.OutcomeMissed:
		s.reg.Inc(metrics.CallsMissed)
	case history.OutcomeDeclined:
		s.reg.Inc(metrics.CallsDeclined)
	}

	httpserver.WriteJSON(w, http.StatusOK, stored)
}
