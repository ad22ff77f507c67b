// Package recovery keeps a panicking handler from taking the process down.
package recovery

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/engram-io/engram/internal/api/respond"
)

// Middleware turns a downstream panic into a logged 500 response. The
// stack is captured at recover time so the log line points at the handler
// that blew up, not at this wrapper.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if cause := recover(); cause != nil {
				log.Error().
					Interface("panic", cause).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Str("remote", r.RemoteAddr).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				respond.WriteInternalError(w, "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
