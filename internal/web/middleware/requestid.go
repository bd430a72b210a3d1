package middleware

import (
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// TraceID assigns a UUID request ID when the client did not send one and
// echoes it in the response. chi's RequestID middleware then reuses it.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chiMiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(chiMiddleware.RequestIDHeader, id)
		}
		w.Header().Set(chiMiddleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
