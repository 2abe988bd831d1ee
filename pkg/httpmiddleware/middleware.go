// Package httpmiddleware contains the net/http middleware of the admin
// console.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware wraps an http.Handler.
type Middleware = func(http.Handler) http.Handler

// routePattern returns the chi route that served r, or "" before routing.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
