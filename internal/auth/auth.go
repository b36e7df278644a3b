// Package auth verifies the credentials presented to the mailbox and history
// endpoints and extracts the signed-in identity they assert.
//
// The core never authenticates identities itself; in jwt mode the identity is
// the token's user_id claim, in apikey/none modes the caller's identity is
// taken at face value from the request. The verifier only establishes that the
// caller may talk to the service at all.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/veldt-labs/callbox/internal/config"
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Verifier checks one credential string. The returned identity is non-empty
// only when the credential itself binds one (jwt mode).
type Verifier interface {
	Verify(credential string) (identity string, err error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return noneVerifier{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("auth: unsupported auth mode %q", cfg.AuthMode)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(string) (string, error) { return "", nil }

// CredentialFromRequest extracts the credential for mode from an HTTP
// request: the Authorization Bearer header first, then the query parameter
// used by browser WebSocket clients that cannot set headers.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode == config.AuthModeNone {
		return "", nil
	}

	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", ErrInvalidCredentials
		}
		return parts[1], nil
	}

	return credentialFromQuery(mode, r.URL.Query())
}

func credentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
	case config.AuthModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingCredentials
}

type identityContextKey struct{}

// ContextWithIdentity records the verified identity on the request context.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity bound by the auth middleware, or
// "" when the mode does not bind one.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityContextKey{}).(string)
	return id
}

// Middleware verifies every request and stores any token-bound identity on
// the context. Verification failures are reported as 401 with a JSON body.
func Middleware(mode config.AuthMode, verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := CredentialFromRequest(mode, r)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}

			identity, err := verifier.Verify(cred)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "invalid credentials"
	if errors.Is(err, ErrMissingCredentials) {
		msg = "missing credentials"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}
