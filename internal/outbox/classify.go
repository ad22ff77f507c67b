package outbox

import (
	"errors"
	"strings"

	"github.com/engram-io/engram/internal/model"
)

// isPermanent reports whether retrying the event can never succeed.
// Malformed payloads and rejected credentials go straight to the DLQ;
// everything else is assumed transient and retried with backoff.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrMalformedPayload) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"unauthorized",
		"forbidden",
		"invalid api key",
		"authentication failed",
		"invalid credentials",
		"schema validation",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
