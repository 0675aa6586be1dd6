package deploy

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuthorizer authorizes requests that contain the configured token as
// bearer token in the Authorization header.
// If the token is empty, all requests are authorized.
type TokenAuthorizer struct {
	token []byte
}

func NewTokenAuthorizer(token string) *TokenAuthorizer {
	return &TokenAuthorizer{token: []byte(token)}
}

func (a *TokenAuthorizer) Authorized(req *http.Request) bool {
	if len(a.token) == 0 {
		return true
	}

	val, found := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !found {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(val), a.token) == 1
}
