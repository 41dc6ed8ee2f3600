// Package chain abstracts the on-chain side: anchoring audit hashes and
// reading transaction receipts for reward claims.
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/market-engine/market-engine/internal/apperr"
)

// AnchorResult identifies where a hash landed on chain.
type AnchorResult struct {
	TxHash  string `json:"txHash"`
	Network string `json:"network"`
	Block   uint64 `json:"block,omitempty"`
}

// ReceiptStatus is the terminal state of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the confirmation record for a transaction hash. A nil
// receipt with nil error means the transaction is still pending.
type Receipt struct {
	TxHash      string        `json:"txHash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"blockNumber"`
}

// Adapter is the engine's view of a chain backend.
type Adapter interface {
	AnchorHash(ctx context.Context, payloadHash string) (*AnchorResult, error)
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	Network() string
}

// NoopAdapter satisfies Adapter without any chain access. Anchoring
// fails with E_UNAVAILABLE so events queue as pending anchors, and no
// receipt is ever found.
type NoopAdapter struct{}

func (NoopAdapter) AnchorHash(ctx context.Context, payloadHash string) (*AnchorResult, error) {
	return nil, apperr.Unavailable("chain adapter not configured")
}

func (NoopAdapter) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return nil, nil
}

func (NoopAdapter) Network() string { return "none" }

// MemoryAdapter is an in-process adapter used in tests and local runs.
// Receipts are seeded by the test; anchors succeed with synthetic tx
// hashes unless Fail is set.
type MemoryAdapter struct {
	mu       sync.Mutex
	network  string
	Fail     bool
	anchored []string
	receipts map[string]*Receipt
	seq      int
}

func NewMemoryAdapter(network string) *MemoryAdapter {
	return &MemoryAdapter{network: network, receipts: map[string]*Receipt{}}
}

func (m *MemoryAdapter) AnchorHash(ctx context.Context, payloadHash string) (*AnchorResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, apperr.Unavailable("anchor endpoint unreachable")
	}
	m.seq++
	m.anchored = append(m.anchored, payloadHash)
	return &AnchorResult{
		TxHash:  fmt.Sprintf("0xanchor-%d", m.seq),
		Network: m.network,
		Block:   uint64(m.seq),
	}, nil
}

func (m *MemoryAdapter) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipts[txHash], nil
}

func (m *MemoryAdapter) Network() string { return m.network }

// SetReceipt seeds the receipt returned for txHash.
func (m *MemoryAdapter) SetReceipt(txHash string, r *Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txHash] = r
}

// Anchored returns the payload hashes anchored so far.
func (m *MemoryAdapter) Anchored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.anchored))
	copy(out, m.anchored)
	return out
}
