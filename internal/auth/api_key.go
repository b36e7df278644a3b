package auth

import "crypto/subtle"

// APIKeyVerifier accepts exactly one shared key. The comparison is constant
// time so the key cannot be probed byte by byte.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(credential string) (string, error) {
	if v.Expected == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.Expected)) != 1 {
		return "", ErrInvalidCredentials
	}
	return "", nil
}
