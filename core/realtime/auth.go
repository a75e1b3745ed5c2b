package realtime

import (
	"net/http"
	"strings"

	"github.com/trezcool/ratiba/core/auth"
)

const tokenQueryParam = "token"

// Authenticator verifies the credential presented when a connection opens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate returns the identity behind `token`:
// auth.ErrMissingCredential or auth.ErrInvalidCredential on failure.
func (a *Authenticator) Authenticate(token string) (auth.Identity, error) {
	return auth.ParseToken(a.secret, token)
}

// AuthenticateRequest reads the bearer token of the Authorization header, or the `token` query param
// since browsers cannot set headers on websocket handshakes.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (auth.Identity, error) {
	return a.Authenticate(TokenFromRequest(r))
}

func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get(tokenQueryParam)
}
