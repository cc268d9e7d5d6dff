package middleware

import (
	"net/http"
	"runtime/debug"
	"time"
)

// Recover turns a panic into a 500 and logs it with the request's user and
// campaign, when known.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, t := withTrace(r)
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			t.logger(m.log).Error().
				Interface("error", err).
				Bytes("stack", debug.Stack()).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(t.start)).
				Msg("panic recovered")

			writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()

		next.ServeHTTP(w, r)
	})
}
