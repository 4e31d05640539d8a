package bridgestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/agreement"
)

// Direction is one of the closed set of (source, destination) chain pairs.
type Direction string

const (
	DirectionXRPLToSolana Direction = "XRPL_TO_SOLANA"
	DirectionSolanaToXRPL Direction = "SOLANA_TO_XRPL"
)

func (d Direction) Valid() bool {
	return d == DirectionXRPLToSolana || d == DirectionSolanaToXRPL
}

func (d Direction) SourceChain() agreement.Chain {
	if d == DirectionSolanaToXRPL {
		return agreement.ChainSolana
	}
	return agreement.ChainXRPL
}

func (d Direction) DestChain() agreement.Chain {
	if d == DirectionSolanaToXRPL {
		return agreement.ChainXRPL
	}
	return agreement.ChainSolana
}

// Status of a bridge transfer.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusLocked     Status = "LOCKED"
	StatusValidating Status = "VALIDATING"
	StatusMinting    Status = "MINTING"
	StatusReleasing  Status = "RELEASING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

// forward transitions; anything absent is illegal
var transitions = map[Status][]Status{
	StatusInitiated:  {StatusLocked, StatusFailed},
	StatusLocked:     {StatusValidating, StatusFailed},
	StatusValidating: {StatusMinting, StatusReleasing, StatusFailed},
	StatusMinting:    {StatusCompleted, StatusFailed},
	StatusReleasing:  {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusRefunded},
	StatusCompleted:  {},
	StatusRefunded:   {},
}

// CanAdvance reports whether from -> to is a legal forward transition.
func CanAdvance(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

func (s Status) Known() bool {
	_, ok := transitions[s]
	return ok
}

// RetryReset returns the nearest safely-retriable earlier state for a stuck
// transfer. The Orchestrator sweep and the Monitor retry path both go
// through this one rule so the two recovery paths can never diverge.
func RetryReset(s Status) (Status, bool) {
	switch s {
	case StatusValidating, StatusMinting, StatusReleasing:
		return StatusLocked, true
	case StatusLocked:
		return StatusInitiated, true
	case StatusInitiated:
		return StatusInitiated, true
	default:
		return "", false
	}
}

// Transfer is the central entity: one cross-chain movement of value from
// initiation through validator consensus to settlement. Records are never
// deleted, only advanced to a terminal status.
type Transfer struct {
	ID                 string
	Direction          Direction
	SourceAddress      string
	DestinationAddress string
	Amount             decimal.Decimal
	Fee                decimal.Decimal
	Status             Status
	VerificationHash   string
	SourceTxHash       string
	DestinationTxHash  string
	RefundTxHash       string
	Signatures         []agreement.ValidatorSignature
	RetryCount         int
	ErrorMessage       string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// SigningHashFields returns the fields every validator derives its signing
// hash from, in canonical order.
func (t *Transfer) SigningHashFields() (id, amount, src, dst, srcTx string) {
	return t.ID, t.Amount.String(), t.SourceAddress, t.DestinationAddress, t.SourceTxHash
}

// SignedBy reports whether validatorID already has a signature on t.
func (t *Transfer) SignedBy(validatorID string) bool {
	for _, sig := range t.Signatures {
		if sig.ValidatorID == validatorID {
			return true
		}
	}
	return false
}

func (t *Transfer) Clone() *Transfer {
	clone := *t
	clone.Amount = t.Amount.Copy()
	clone.Fee = t.Fee.Copy()
	clone.Signatures = make([]agreement.ValidatorSignature, len(t.Signatures))
	copy(clone.Signatures, t.Signatures)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}
