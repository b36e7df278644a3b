// Package turnrest mints coturn-compatible ephemeral TURN credentials.
//
// Clients fetch these from GET /ice before dialing so that relayed candidates
// work without a static TURN password in the client config.
//
// Algorithm (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Minter struct {
	sharedSecret []byte
	ttl          time.Duration
	prefix       string
	now          func() time.Time
	sessionID    func() (string, error)
}

type Config struct {
	SharedSecret string
	TTLSeconds   int64
	Prefix       string

	// Now and SessionID exist for tests; both default to real sources.
	Now       func() time.Time
	SessionID func() (string, error)
}

func New(cfg Config) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("turnrest: TTLSeconds must be > 0")
	}
	if cfg.Prefix == "" || strings.Contains(cfg.Prefix, ":") {
		return nil, errors.New("turnrest: prefix is required and must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SessionID == nil {
		cfg.SessionID = randomSessionID
	}
	return &Minter{
		sharedSecret: []byte(cfg.SharedSecret),
		ttl:          time.Duration(cfg.TTLSeconds) * time.Second,
		prefix:       cfg.Prefix,
		now:          cfg.Now,
		sessionID:    cfg.SessionID,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Mint issues credentials bound to sessionID, valid until now + TTL.
func (m *Minter) Mint(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("turnrest: sessionID is required and must not contain ':'")
	}
	expiry := m.now().UTC().Add(m.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, m.prefix, sessionID)
	return Credentials{
		Username:   username,
		Credential: sign(m.sharedSecret, username),
		ExpiryUnix: expiry,
	}, nil
}

// MintRandom issues credentials under a fresh random session id.
func (m *Minter) MintRandom() (Credentials, error) {
	sessionID, err := m.sessionID()
	if err != nil {
		return Credentials{}, err
	}
	return m.Mint(sessionID)
}

func randomSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func sign(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
