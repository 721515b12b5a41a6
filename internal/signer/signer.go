// Package signer defines the per-chain signing capability, the registry that
// dispatches transactions to it, and the taxonomy used to classify failures.
package signer

import (
	"context"
	"time"

	"github.com/ggonzalez94/swapexec/internal/txs"
)

// Result is returned by send and wait. Response is backend specific and is
// handed back to Wait unchanged.
type Result struct {
	Hash     string `json:"hash"`
	Response any    `json:"-"`
}

// Signer signs and submits transactions for one transaction kind.
// An empty chainID means the backend decides.
type Signer interface {
	SignMessage(ctx context.Context, msg, address, chainID string) (string, error)
	SignAndSendTx(ctx context.Context, tx txs.Transaction, address, chainID string) (Result, error)
}

// Waiter is implemented by signers that can confirm a broadcast transaction.
// Without it, broadcast is treated as final.
type Waiter interface {
	Wait(ctx context.Context, hash, chainID string, raw any, confirmations int) (Result, error)
}

// Configurable signers receive the registry config once, at registration.
type Configurable interface {
	SetConfig(cfg Config) error
}

// Addresser is implemented by signers bound to a single local account.
type Addresser interface {
	Address() string
}

// Config is shared by every signer in a registry.
type Config struct {
	Confirmations int
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	// RPCURLs maps a chain id or blockchain name to an endpoint override.
	RPCURLs map[string]string
}
