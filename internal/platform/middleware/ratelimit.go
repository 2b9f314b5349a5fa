package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits each client IP to limit requests per window using a sliding
// window counter. onLimit renders the 429 response; when nil, httprate's plain-text
// default is used. A non-positive limit disables rate limiting.
//
// Client IPs come from r.RemoteAddr, so chi's RealIP must run earlier in the chain
// when the service sits behind a trusted proxy.
func RateLimit(limit int, window time.Duration, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	if limit <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	opts := []httprate.Option{httprate.WithKeyFuncs(httprate.KeyByIP)}
	if onLimit != nil {
		opts = append(opts, httprate.WithLimitHandler(onLimit))
	}
	return httprate.Limit(limit, window, opts...)
}
