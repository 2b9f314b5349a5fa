package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CORS returns a permissive CORS middleware. The API is read-only and carries no
// credentials, so any origin may call it; request correlation headers are allowed
// in and the headers clients need for discovery are exposed.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			chimiddleware.RequestIDHeader,
			"traceparent",
		},
		ExposedHeaders: []string{
			"Link",
			"Location",
			"Retry-After",
			chimiddleware.RequestIDHeader,
		},
		MaxAge: 300,
	})
}
