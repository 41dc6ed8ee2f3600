// Package reward models off-chain reward grants, their claim lifecycle
// and the nonce registry that blocks claim replay.
package reward

import (
	"fmt"
	"time"

	"github.com/market-engine/market-engine/internal/apperr"
)

type Status string

const (
	StatusCreated          Status = "reward_created"
	StatusClaimIssued      Status = "claim_issued"
	StatusOnchainSubmitted Status = "onchain_submitted"
	StatusOnchainConfirmed Status = "onchain_confirmed"
	StatusOnchainFailed    Status = "onchain_failed"
	StatusCancelled        Status = "reward_cancelled"
)

// Grant is a reward owed to a recipient, claimable until Deadline.
type Grant struct {
	GrantID       string     `json:"grantId"`
	RecipientID   string     `json:"recipientId"`
	Recipient     string     `json:"recipient"`
	Amount        string     `json:"amount"`
	TokenAddress  string     `json:"tokenAddress"`
	ChainFamily   string     `json:"chainFamily"`
	Network       string     `json:"network"`
	Reason        string     `json:"reason,omitempty"`
	Status        Status     `json:"status"`
	Nonce         string     `json:"nonce,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	ClaimHash     string     `json:"claimHash,omitempty"`
	TxHash        string     `json:"txHash,omitempty"`
	BlockNumber   uint64     `json:"blockNumber,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	GrantHash     string     `json:"grantHash"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CancelledNote string     `json:"cancelledNote,omitempty"`
}

// Nonce marks one (chain, network, recipient, nonce) tuple as consumed.
type Nonce struct {
	NonceID  string    `json:"nonceId"`
	GrantID  string    `json:"grantId"`
	IssuedAt time.Time `json:"issuedAt"`
}

// NonceID builds the registry key for a claim nonce.
func NonceID(chainFamily, network, recipient, nonce string) string {
	return fmt.Sprintf("%s:%s:%s:%s", chainFamily, network, recipient, nonce)
}

var transitions = map[Status][]Status{
	StatusCreated:          {StatusClaimIssued, StatusCancelled},
	StatusClaimIssued:      {StatusOnchainSubmitted, StatusCancelled},
	StatusOnchainSubmitted: {StatusOnchainConfirmed, StatusOnchainFailed},
	StatusOnchainConfirmed: {},
	StatusOnchainFailed:    {StatusClaimIssued, StatusCancelled},
	StatusCancelled:        {},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func AssertTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.Conflict("invalid reward transition: %s -> %s", from, to)
	}
	return nil
}
