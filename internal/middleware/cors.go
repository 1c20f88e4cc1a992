package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns a middleware allowing the given origins to call the API from a
// browser. An empty list disables cross-origin access; a single "*" allows
// any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		// rs/cors treats an empty list as "allow all".
		return func(next http.Handler) http.Handler { return next }
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Accept", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
		// The API authenticates with body fields, never cookies.
		AllowCredentials: false,
		MaxAge:           86400,
	})
	return c.Handler
}
