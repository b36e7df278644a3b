// Package signal defines the unit of call negotiation exchanged between two
// participants via the mailbox service: an SDP offer, an SDP answer, or an ICE
// candidate.
//
// The payload is opaque to this package; it is produced and consumed by the
// media layer and passed through the mailbox unmodified.
package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Kind identifies which half of session negotiation a message carries.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// wireTypeCandidate is the on-the-wire spelling of KindCandidate. The REST
// contract predates this package and uses "ice-candidate" in the type field.
const wireTypeCandidate = "ice-candidate"

var (
	ErrInvalidMessage = errors.New("signal: invalid message")

	errMissingFrom    = fmt.Errorf("%w: missing from", ErrInvalidMessage)
	errMissingTo      = fmt.Errorf("%w: missing to", ErrInvalidMessage)
	errMissingPayload = fmt.Errorf("%w: missing signal payload", ErrInvalidMessage)
)

// Message is one queued signaling message. From/To are opaque identity
// strings; the mailbox service assigns CreatedAt and Seq on receipt and the
// message is immutable afterwards.
type Message struct {
	From      string
	To        string
	Kind      Kind
	Payload   json.RawMessage
	CreatedAt time.Time
	Seq       uint64
}

// Validate checks the sender-controlled fields. CreatedAt/Seq are
// server-assigned and deliberately not validated here.
func (m Message) Validate() error {
	if m.From == "" {
		return errMissingFrom
	}
	if m.To == "" {
		return errMissingTo
	}
	switch m.Kind {
	case KindOffer, KindAnswer, KindCandidate:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, string(m.Kind))
	}
	if len(m.Payload) == 0 {
		return errMissingPayload
	}
	return nil
}

// wireMessage is the JSON shape of the POST /signal body and of each element
// of the GET /signal response. The candidate kind is spelled "ice-candidate"
// on the wire.
type wireMessage struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      string          `json:"type"`
	Signal    json.RawMessage `json:"signal"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
}

func kindToWire(k Kind) string {
	if k == KindCandidate {
		return wireTypeCandidate
	}
	return string(k)
}

func kindFromWire(t string) (Kind, error) {
	switch t {
	case string(KindOffer):
		return KindOffer, nil
	case string(KindAnswer):
		return KindAnswer, nil
	case wireTypeCandidate, string(KindCandidate):
		return KindCandidate, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, t)
	}
}

// MarshalJSON encodes the wire shape of the REST contract.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		From:   m.From,
		To:     m.To,
		Type:   kindToWire(m.Kind),
		Signal: m.Payload,
		Seq:    m.Seq,
	}
	if !m.CreatedAt.IsZero() {
		t := m.CreatedAt
		w.CreatedAt = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire shape. Unknown kinds are an error; unknown
// fields are tolerated here (Parse is the strict entry point for request
// bodies).
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := kindFromWire(w.Type)
	if err != nil {
		return err
	}
	m.From = w.From
	m.To = w.To
	m.Kind = kind
	m.Payload = w.Signal
	m.Seq = w.Seq
	if w.CreatedAt != nil {
		m.CreatedAt = *w.CreatedAt
	} else {
		m.CreatedAt = time.Time{}
	}
	return nil
}

// Parse decodes and validates one inbound wire message. It rejects unknown
// fields and trailing data so malformed senders fail loudly at the mailbox
// boundary instead of queueing garbage.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: trailing data", ErrInvalidMessage)
	}

	kind, err := kindFromWire(w.Type)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		From:    w.From,
		To:      w.To,
		Kind:    kind,
		Payload: w.Signal,
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
