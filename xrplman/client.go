package xrplman

import (
	"context"
	"strings"

	perrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/ybbus/jsonrpc"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/common"
)

// decimal exponent between XRP and drops: 1 XRP = 10^6 drops, and the
// ledger deals in drops only
const xrpDecimals = 6

// DropsToXRP converts a drops string from the ledger into an XRP amount.
func DropsToXRP(drops string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(drops)
	if err != nil {
		return decimal.Zero, perrors.Wrapf(err, "bad drops value %q", drops)
	}
	return d.Shift(-xrpDecimals), nil
}

// XRPToDrops converts an XRP amount into the drops string the ledger expects.
func XRPToDrops(xrp decimal.Decimal) string {
	return xrp.Shift(xrpDecimals).String()
}

// Client wraps the XRP Ledger JSON-RPC API behind the chain-client
// interface. Queries go to a validated ledger only.
type Client struct {
	rpc jsonrpc.RPCClient

	// Account XRPL_TO_SOLANA deposits must pay
	CustodialAddress string
}

func NewClient(url, custodialAddress string) *Client {
	return &Client{
		rpc:              jsonrpc.NewClient(url),
		CustodialAddress: custodialAddress,
	}
}

// XRPL wraps its outcome inside the JSON-RPC result object instead of the
// JSON-RPC error member, so every result carries status/error fields.
type txResult struct {
	Status          string `json:"status"`
	Error           string `json:"error"`
	Validated       bool   `json:"validated"`
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	Amount          string `json:"Amount"` // drops, for native XRP payments
	Meta            struct {
		TransactionResult string `json:"TransactionResult"`
		DeliveredAmount   string `json:"delivered_amount"`
	} `json:"meta"`
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (*agreement.ChainTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.rpc.Call("tx", map[string]interface{}{
		"transaction": hash,
		"binary":      false,
	})
	if err != nil {
		return nil, perrors.Wrap(err, "xrpl tx call failed")
	}
	if resp.Error != nil {
		return nil, perrors.Errorf("xrpl tx call failed: %s", resp.Error.Message)
	}

	var res txResult
	if err := resp.GetObject(&res); err != nil {
		return nil, perrors.Wrap(err, "failed to decode xrpl tx result")
	}
	if res.Error == "txnNotFound" {
		return &agreement.ChainTx{Hash: hash, Found: false}, nil
	}
	if res.Error != "" {
		return nil, perrors.Errorf("xrpl tx lookup error: %s", res.Error)
	}

	tx := &agreement.ChainTx{
		Hash:      hash,
		Found:     true,
		Finalized: res.Validated && res.Meta.TransactionResult == "tesSUCCESS",
		From:      res.Account,
		To:        res.Destination,
	}
	if res.TransactionType == "Payment" {
		tx.Type = agreement.TxTypePayment
	} else {
		tx.Type = agreement.TxTypeOther
	}

	// delivered_amount is authoritative; Amount is only the instruction
	drops := res.Meta.DeliveredAmount
	if drops == "" {
		drops = res.Amount
	}
	if drops != "" {
		tx.Amount, err = DropsToXRP(drops)
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

type submitResult struct {
	Status              string `json:"status"`
	Error               string `json:"error"`
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

// SubmitTransaction broadcasts a signed transaction blob.
func (c *Client) SubmitTransaction(ctx context.Context, payload []byte) (*agreement.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.rpc.Call("submit", map[string]interface{}{
		"tx_blob": common.ByteSliceToPureHexStr(payload),
	})
	if err != nil {
		return nil, perrors.Wrap(err, "xrpl submit call failed")
	}
	if resp.Error != nil {
		return nil, perrors.Errorf("xrpl submit call failed: %s", resp.Error.Message)
	}

	var res submitResult
	if err := resp.GetObject(&res); err != nil {
		return nil, perrors.Wrap(err, "failed to decode xrpl submit result")
	}
	if res.Error != "" {
		return &agreement.SubmitResult{Success: false, Err: res.Error}, nil
	}
	if !strings.HasPrefix(res.EngineResult, "tes") {
		return &agreement.SubmitResult{
			TxHash:  res.TxJSON.Hash,
			Success: false,
			Err:     res.EngineResult + ": " + res.EngineResultMessage,
		}, nil
	}
	return &agreement.SubmitResult{TxHash: res.TxJSON.Hash, Success: true}, nil
}

type accountInfoResult struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	AccountData struct {
		Balance string `json:"Balance"` // drops
	} `json:"account_data"`
}

// GetAccountBalance returns the validated XRP balance of an account. The
// assetID is ignored; the XRPL side of the bridge moves native XRP only.
func (c *Client) GetAccountBalance(ctx context.Context, address, assetID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	resp, err := c.rpc.Call("account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	})
	if err != nil {
		return decimal.Zero, perrors.Wrap(err, "xrpl account_info call failed")
	}
	if resp.Error != nil {
		return decimal.Zero, perrors.Errorf("xrpl account_info call failed: %s", resp.Error.Message)
	}

	var res accountInfoResult
	if err := resp.GetObject(&res); err != nil {
		return decimal.Zero, perrors.Wrap(err, "failed to decode xrpl account_info result")
	}
	if res.Error != "" {
		return decimal.Zero, perrors.Errorf("xrpl account_info error: %s", res.Error)
	}
	return DropsToXRP(res.AccountData.Balance)
}

// DeriveDepositAccount is the identity on XRPL: native XRP is paid straight
// to the owner's account, no holding account needed.
func (c *Client) DeriveDepositAccount(ctx context.Context, ownerAddress, assetID string) (string, error) {
	return ownerAddress, nil
}

var _ agreement.ChainClient = (*Client)(nil)
