package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Supported read-only actions for ExecuteAction.
const (
	ActionGetBalance          = "eth_getBalance"
	ActionGetTransactionCount = "eth_getTransactionCount"
)

// ChainSnapshot represents summarized network metadata for health checks and
// status reporting.
type ChainSnapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ExecuteAction(ctx context.Context, action, address string) (string, error)
	// SendRawTransactions broadcasts already signed, RLP/typed-envelope encoded
	// transactions and returns their hashes in input order.
	SendRawTransactions(ctx context.Context, raw [][]byte) ([]common.Hash, error)
	Close()
}
