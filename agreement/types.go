package agreement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies one side of the bridge.
type Chain string

const (
	ChainXRPL   Chain = "XRPL"
	ChainSolana Chain = "SOLANA"
)

// TxType classifies a chain transaction as far as the bridge cares.
type TxType string

const (
	TxTypePayment TxType = "payment"
	TxTypeBurn    TxType = "burn"
	TxTypeMint    TxType = "mint"
	TxTypeOther   TxType = "other"
)

// ChainTx is the chain-agnostic view of one on-chain transaction.
type ChainTx struct {
	Hash      string
	Found     bool
	Finalized bool
	Type      TxType
	Amount    decimal.Decimal
	From      string
	To        string
}

// SubmitResult reports the outcome of a transaction broadcast.
type SubmitResult struct {
	TxHash  string
	Success bool
	Err     string
}

// Verdict is the outcome of a validator's source-event check. Unverified is
// deliberately distinct from Invalid: a check that could not run (chain
// unreachable, predicate not evaluable) must never count as a pass and must
// never brand the transfer as fraudulent either.
type Verdict int

const (
	VerdictUnverified Verdict = iota
	VerdictValid
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	default:
		return "unverified"
	}
}

// VerifyResult carries the verdict plus a human-readable reason on anything
// other than Valid.
type VerifyResult struct {
	Verdict Verdict
	Reason  string
}

// ValidatorSignature is one validator's endorsement of a transfer. The
// signature covers the deterministic signing hash of the transfer's stored
// fields (see common.SigningHash).
type ValidatorSignature struct {
	ValidatorID string
	Signature   []byte
	SignedAt    time.Time
}
