// Package webhook delivers signed revocation notifications to external
// endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/canonical"
)

const (
	headerTimestamp   = "x-market-timestamp"
	headerPayloadHash = "x-market-payload-hash"
	headerSignature   = "x-market-signature"
	headerAPIKey      = "x-market-api-key"

	defaultTimeout = 8 * time.Second
)

// Notification is the body posted to a revocation endpoint.
type Notification struct {
	Event     string         `json:"event"`
	TargetID  string         `json:"targetId"`
	OrderID   string         `json:"orderId,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	RevokedAt time.Time      `json:"revokedAt"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notifier posts a notification to one endpoint.
type Notifier interface {
	Notify(ctx context.Context, endpoint string, n Notification) error
}

// HMACNotifier signs each request with a shared secret: the signature
// covers "<timestamp>.<body>" so a replayed body with a fresh timestamp
// fails verification.
type HMACNotifier struct {
	client *http.Client
	secret []byte
	apiKey string
}

type Option func(*HMACNotifier)

func WithTimeout(d time.Duration) Option {
	return func(n *HMACNotifier) { n.client.Timeout = d }
}

func WithAPIKey(key string) Option {
	return func(n *HMACNotifier) { n.apiKey = key }
}

func NewHMACNotifier(secret string, opts ...Option) *HMACNotifier {
	n := &HMACNotifier{
		client: &http.Client{Timeout: defaultTimeout},
		secret: []byte(secret),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sign computes the hex HMAC-SHA256 over "<timestamp>.<body>".
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *HMACNotifier) Notify(ctx context.Context, endpoint string, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	payloadHash, err := canonical.Hash(n)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.InvalidArgument("invalid webhook endpoint")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerPayloadHash, payloadHash)
	req.Header.Set(headerSignature, Sign(h.secret, ts, body))
	if h.apiKey != "" {
		req.Header.Set(headerAPIKey, h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return apperr.Unavailable("webhook endpoint unreachable: %s", apperr.Redact(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}
