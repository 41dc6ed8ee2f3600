package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOfTypedError(t *testing.T) {
	err := Conflict("invalid order transition: %s -> %s", "order_created", "settlement_completed")
	assert.Equal(t, CodeConflict, CodeOf(err))

	wrapped := fmt.Errorf("order.cancel: %w", err)
	assert.Equal(t, CodeConflict, CodeOf(wrapped))
}

func TestClassifyByMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want Code
	}{
		{"offer not found", CodeNotFound},
		{"actorId is required for market access", CodeAuthRequired},
		{"access denied: scope not allowed", CodeForbidden},
		{"actorId does not match offer.sellerId", CodeForbidden},
		{"settlement already exists for order", CodeConflict},
		{"offer is not published", CodeConflict},
		{"lease already expired", CodeExpired},
		{"consent revoked", CodeRevoked},
		{"price must be greater than 0", CodeInvalidArgument},
		{"quota exhausted for resource", CodeQuotaExceeded},
		{"webhook post timeout", CodeTimeout},
		{"anchor endpoint unreachable", CodeUnavailable},
		{"something odd happened", CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeOf(errors.New(tc.msg)), tc.msg)
	}
}

func TestClassifyRedacts(t *testing.T) {
	err := errors.New("open /var/lib/market/orders.json: permission denied")
	typed := Classify(err)
	require.NotNil(t, typed)
	assert.NotContains(t, typed.Message, "/var/lib")
	assert.Contains(t, typed.Message, "[PATH]")
}

func TestRedactPatterns(t *testing.T) {
	cases := []struct {
		in       string
		mustMiss string
		mustHave string
	}{
		{"failed to reach https://hooks.example.com/revoke?key=abc", "hooks.example.com", "[URL]"},
		{"read /home/op/.market/state: eof", "/home/op", "[PATH]"},
		{"DATABASE_URL=postgres://u:p@h/db rejected", "DATABASE_URL=", "[ENV]"},
		{"tx 0x4fa1b2c3d4e5f60718293a4b5c6d7e8f9012345678 reverted", "0x4fa1", "[ADDRESS]"},
		{"auth eyJhbGciOi.eyJzdWIiOi.sflKxwRJSM rejected", "eyJhbGciOi", "[TOKEN]"},
	}
	for _, tc := range cases {
		out := Redact(tc.in)
		assert.NotContains(t, out, tc.mustMiss, tc.in)
		assert.Contains(t, out, tc.mustHave, tc.in)
	}
}
