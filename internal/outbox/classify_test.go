package outbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/model"
)

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"malformed payload", fmt.Errorf("%w: missing ownerId", model.ErrMalformedPayload), true},
		{"unauthorized", errors.New("401 Unauthorized"), true},
		{"forbidden", errors.New("request forbidden"), true},
		{"bad credentials", errors.New("invalid API key supplied"), true},
		{"schema rejection", errors.New("schema validation failed: unknown property"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), false},
		{"timeout", errors.New("context deadline exceeded"), false},
		{"server error", errors.New("status 503"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isPermanent(tc.err))
		})
	}
}
