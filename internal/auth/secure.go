package auth

import (
	"net/http"
	"strings"
)

// IsSecureConnection decides whether a request is logically HTTPS. The raw
// socket being encrypted is sufficient but not necessary: deployments behind
// a TLS-terminating reverse proxy or tunnel reach us over plaintext, and the
// proxy's forwarded-protocol header (or a tunnel provider's connecting-IP
// marker) is the only trustworthy signal. The result drives the Secure
// attribute on response cookies: wrong in one direction the browser drops
// the session cookie, wrong in the other it leaks over plaintext.
//
// protoHeaders and tunnelHeaders are explicit allowlists from configuration;
// no other header is ever consulted.
func IsSecureConnection(r *http.Request, protoHeaders, tunnelHeaders []string) bool {
	if r.TLS != nil {
		return true
	}
	for _, h := range protoHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// Proxies may append: take the first (client-nearest) value.
		if first, _, found := strings.Cut(v, ","); found {
			v = first
		}
		if strings.EqualFold(strings.TrimSpace(v), "https") {
			return true
		}
	}
	for _, h := range tunnelHeaders {
		if r.Header.Get(h) != "" {
			return true
		}
	}
	return false
}
