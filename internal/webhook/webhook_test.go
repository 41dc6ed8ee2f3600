package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySignsRequest(t *testing.T) {
	secret := "hook-secret"
	var gotSig, gotTS, gotHash, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("x-market-signature")
		gotTS = r.Header.Get("x-market-timestamp")
		gotHash = r.Header.Get("x-market-payload-hash")
		gotKey = r.Header.Get("x-market-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHMACNotifier(secret, WithAPIKey("partner-key"))
	err := n.Notify(context.Background(), srv.URL, Notification{
		Event:     "consent.revoked",
		TargetID:  "consent-1",
		OrderID:   "order-1",
		Reason:    "user request",
		RevokedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Equal(t, Sign([]byte(secret), gotTS, gotBody), gotSig)
	assert.NotEmpty(t, gotHash)
	assert.Equal(t, "partner-key", gotKey)
}

func TestNotifyNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewHMACNotifier("s")
	err := n.Notify(context.Background(), srv.URL, Notification{Event: "delivery.revoked", TargetID: "d-1"})
	assert.ErrorContains(t, err, "502")
}

func TestNotifyUnreachable(t *testing.T) {
	n := NewHMACNotifier("s", WithTimeout(200*time.Millisecond))
	err := n.Notify(context.Background(), "http://127.0.0.1:1/hook", Notification{Event: "x", TargetID: "y"})
	assert.Error(t, err)
}
