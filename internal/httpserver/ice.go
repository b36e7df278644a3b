package httpserver

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/veldt-labs/callbox/internal/turnrest"
)

// handleICE serves the ICE bootstrap clients use before creating a peer
// connection. When a TURN REST shared secret is configured, ephemeral
// credentials are minted per request and attached to every TURN server.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.PeerConnectionICEServers()

	if s.cfg.TURNRESTSharedSecret != "" {
		minter, err := turnrest.New(turnrest.Config{
			SharedSecret: s.cfg.TURNRESTSharedSecret,
			TTLSeconds:   s.cfg.TURNRESTTTLSeconds,
			Prefix:       s.cfg.TURNRESTUserPrefix,
		})
		if err != nil {
			s.log.Error("turn rest minter misconfigured", "err", err)
			WriteError(w, http.StatusServiceUnavailable, "turn credentials unavailable")
			return
		}
		creds, err := minter.MintRandom()
		if err != nil {
			s.log.Error("turn rest mint failed", "err", err)
			WriteError(w, http.StatusServiceUnavailable, "turn credentials unavailable")
			return
		}
		servers = withTURNCredentials(servers, creds.Username, creds.Credential)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Keep empty (non-nil) slices so the response encodes as [] not null.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
