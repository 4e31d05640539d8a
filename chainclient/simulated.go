package chainclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/common"
)

// SimClient is an in-memory ChainClient for tests and the demo wiring. It
// records every submitted payload so tests can assert on idempotence.
type SimClient struct {
	mu sync.Mutex

	txs      map[string]*agreement.ChainTx
	balances map[string]decimal.Decimal

	// Submitted collects every payload passed to SubmitTransaction.
	Submitted [][]byte

	// FailSubmit makes SubmitTransaction report a failure.
	FailSubmit bool

	// Unreachable makes every call return an error, simulating a chain
	// that cannot be queried at all.
	Unreachable bool
}

func NewSimClient() *SimClient {
	return &SimClient{
		txs:      make(map[string]*agreement.ChainTx),
		balances: make(map[string]decimal.Decimal),
	}
}

// SetTransaction registers a transaction the client will report.
func (c *SimClient) SetTransaction(tx *agreement.ChainTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Hash] = tx
}

func (c *SimClient) SetBalance(address string, balance decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[address] = balance
}

func (c *SimClient) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}

func (c *SimClient) GetTransaction(ctx context.Context, hash string) (*agreement.ChainTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return nil, fmt.Errorf("sim chain unreachable")
	}
	if tx, ok := c.txs[hash]; ok {
		cp := *tx
		return &cp, nil
	}
	return &agreement.ChainTx{Hash: hash, Found: false}, nil
}

func (c *SimClient) SubmitTransaction(ctx context.Context, payload []byte) (*agreement.SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return nil, fmt.Errorf("sim chain unreachable")
	}
	if c.FailSubmit {
		return &agreement.SubmitResult{Success: false, Err: "sim submit rejected"}, nil
	}
	c.Submitted = append(c.Submitted, payload)
	return &agreement.SubmitResult{
		TxHash:  common.Bytes32ToHexStr(common.RandBytes32()),
		Success: true,
	}, nil
}

func (c *SimClient) GetAccountBalance(ctx context.Context, address, assetID string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return decimal.Zero, fmt.Errorf("sim chain unreachable")
	}
	return c.balances[address], nil
}

func (c *SimClient) DeriveDepositAccount(ctx context.Context, ownerAddress, assetID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return "", fmt.Errorf("sim chain unreachable")
	}
	return ownerAddress, nil
}

var _ agreement.ChainClient = (*SimClient)(nil)
