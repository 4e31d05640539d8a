package agreement

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChainClient is the per-chain capability the bridge consumes. One
// implementation exists per chain (xrplman, solman); the lifecycle code
// never constructs chain transactions itself.
type ChainClient interface {
	// GetTransaction looks up a transaction by its chain-native hash.
	// A missing transaction is reported via ChainTx.Found, not an error;
	// errors mean the chain could not be asked at all.
	GetTransaction(ctx context.Context, hash string) (*ChainTx, error)

	// SubmitTransaction broadcasts a signed payload and returns the
	// chain-native transaction hash.
	SubmitTransaction(ctx context.Context, payload []byte) (*SubmitResult, error)

	// GetAccountBalance returns the balance of address for the given asset.
	// An empty assetID means the chain's native asset.
	GetAccountBalance(ctx context.Context, address, assetID string) (decimal.Decimal, error)

	// DeriveDepositAccount resolves the holding account that must exist
	// before ownerAddress can receive assetID. Chains without explicit
	// holding accounts return ownerAddress unchanged.
	DeriveDepositAccount(ctx context.Context, ownerAddress, assetID string) (string, error)
}
