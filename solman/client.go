package solman

import (
	"context"
	"encoding/base64"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/agreement"
)

// lamports per SOL
const solDecimals = 9

// Client wraps a Solana RPC node behind the chain-client interface. Reads
// use finalized commitment only; anything younger can still be rolled back.
type Client struct {
	conn *rpc.Client

	// Mint of the wrapped XRP token; burns of this mint are the source
	// events for SOLANA_TO_XRPL transfers
	WrappedMint solana.PublicKey
}

func NewClient(url, wrappedMint string) (*Client, error) {
	mint, err := solana.PublicKeyFromBase58(wrappedMint)
	if err != nil {
		return nil, perrors.Wrapf(err, "bad wrapped mint %q", wrappedMint)
	}
	return &Client{
		conn:        rpc.New(url),
		WrappedMint: mint,
	}, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*agreement.ChainTx, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		// a hash that cannot even be parsed can never be found
		return &agreement.ChainTx{Hash: hash, Found: false}, nil
	}

	out, err := c.conn.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentFinalized,
	})
	if err == rpc.ErrNotFound {
		return &agreement.ChainTx{Hash: hash, Found: false}, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, "solana getTransaction failed")
	}

	tx := &agreement.ChainTx{
		Hash:  hash,
		Found: true,
		// finalized commitment means the cluster cannot roll it back
		Finalized: out.Meta != nil && out.Meta.Err == nil,
		Type:      agreement.TxTypeOther,
	}
	if out.Meta == nil {
		return tx, nil
	}

	// a burn shows up as a decrease of the wrapped mint's token balance
	post := make(map[uint16]rpc.TokenBalance, len(out.Meta.PostTokenBalances))
	for _, b := range out.Meta.PostTokenBalances {
		post[b.AccountIndex] = b
	}
	for _, pre := range out.Meta.PreTokenBalances {
		if !pre.Mint.Equals(c.WrappedMint) {
			continue
		}
		before, err := tokenAmount(pre.UiTokenAmount)
		if err != nil {
			continue
		}
		after := decimal.Zero
		if pb, ok := post[pre.AccountIndex]; ok {
			after, err = tokenAmount(pb.UiTokenAmount)
			if err != nil {
				continue
			}
		}
		if before.GreaterThan(after) {
			tx.Type = agreement.TxTypeBurn
			tx.Amount = before.Sub(after)
			tx.To = c.WrappedMint.String()
			if pre.Owner != nil {
				tx.From = pre.Owner.String()
			}
			break
		}
	}
	return tx, nil
}

func tokenAmount(a *rpc.UiTokenAmount) (decimal.Decimal, error) {
	if a == nil {
		return decimal.Zero, perrors.New("missing token amount")
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero, perrors.Wrapf(err, "bad token amount %q", a.Amount)
	}
	return raw.Shift(-int32(a.Decimals)), nil
}

// SubmitTransaction broadcasts a signed, serialized transaction.
func (c *Client) SubmitTransaction(ctx context.Context, payload []byte) (*agreement.SubmitResult, error) {
	sig, err := c.conn.SendEncodedTransaction(ctx, base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		return &agreement.SubmitResult{Success: false, Err: err.Error()}, nil
	}
	return &agreement.SubmitResult{TxHash: sig.String(), Success: true}, nil
}

// GetAccountBalance returns the finalized balance: the wrapped token balance
// when assetID names the mint, native SOL otherwise.
func (c *Client) GetAccountBalance(ctx context.Context, address, assetID string) (decimal.Decimal, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, perrors.Wrapf(err, "bad address %q", address)
	}

	if assetID != "" {
		ata, _, err := solana.FindAssociatedTokenAddress(pub, c.WrappedMint)
		if err != nil {
			return decimal.Zero, perrors.Wrap(err, "failed to derive token account")
		}
		out, err := c.conn.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
		if err != nil {
			return decimal.Zero, perrors.Wrap(err, "solana getTokenAccountBalance failed")
		}
		return tokenAmount(out.Value)
	}

	out, err := c.conn.GetBalance(ctx, pub, rpc.CommitmentFinalized)
	if err != nil {
		return decimal.Zero, perrors.Wrap(err, "solana getBalance failed")
	}
	lamports := new(big.Int).SetUint64(out.Value)
	return decimal.NewFromBigInt(lamports, -solDecimals), nil
}

// DeriveDepositAccount returns the associated token account wrapped tokens
// are minted into for an owner wallet.
func (c *Client) DeriveDepositAccount(ctx context.Context, ownerAddress, assetID string) (string, error) {
	owner, err := solana.PublicKeyFromBase58(ownerAddress)
	if err != nil {
		return "", perrors.Wrapf(err, "bad owner address %q", ownerAddress)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, c.WrappedMint)
	if err != nil {
		return "", perrors.Wrap(err, "failed to derive associated token account")
	}
	return ata.String(), nil
}

var _ agreement.ChainClient = (*Client)(nil)
