// Package httpmiddleware provides the HTTP middleware chain for the webhook
// server: panic recovery, request IDs, per-sender rate limiting, and request
// logging.
package httpmiddleware

import "net/http"

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws to h with the first middleware outermost, so
// Wrap(h, a, b) serves requests through a, then b, then h.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
