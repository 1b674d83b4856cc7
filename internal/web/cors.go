package web

import (
	"net/http"

	"github.com/rs/cors"
)

// newCORS allows browser requests from origin only. Any request header is
// accepted and credentials are not.
func newCORS(origin string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           600,
	})
}
