package bridgestore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/verity-protocol/bridge-go/common"
)

// NewSimStore opens an in-memory store for tests.
func NewSimStore() (*Store, error) {
	return New(":memory:")
}

// RandTransfer builds a plausible transfer in the given status, for tests.
func RandTransfer(direction Direction, status Status) *Transfer {
	now := time.Now().UTC().Truncate(time.Millisecond)
	nonce := common.RandBytes32()

	t := &Transfer{
		ID:                 uuid.NewString(),
		Direction:          direction,
		SourceAddress:      "rN7n7otQDd6FczFgLdSqtcsAUxDkw6fzRH",
		DestinationAddress: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Amount:             decimal.NewFromInt(1000),
		Fee:                decimal.NewFromInt(10),
		Status:             status,
		CreatedAt:          now,
	}
	if direction == DirectionSolanaToXRPL {
		t.SourceAddress, t.DestinationAddress = t.DestinationAddress, t.SourceAddress
	}
	t.VerificationHash = common.VerificationHash(
		string(direction), t.SourceAddress, t.DestinationAddress,
		t.Amount.String(), nonce, now.Unix(),
	).Hex()
	if status != StatusInitiated {
		t.SourceTxHash = common.Bytes32ToHexStr(common.RandBytes32())
	}
	return t
}

// InsertInStatus persists a random transfer and walks it to the wanted
// status through legal transitions, for tests that need mid-lifecycle rows.
func (s *Store) InsertInStatus(direction Direction, status Status) (*Transfer, error) {
	t := RandTransfer(direction, StatusInitiated)
	srcTx := common.Bytes32ToHexStr(common.RandBytes32())
	if err := s.Insert(t); err != nil {
		return nil, err
	}

	path := map[Status][]Status{
		StatusInitiated:  nil,
		StatusLocked:     {StatusLocked},
		StatusValidating: {StatusLocked, StatusValidating},
		StatusMinting:    {StatusLocked, StatusValidating, StatusMinting},
		StatusReleasing:  {StatusLocked, StatusValidating, StatusReleasing},
		StatusCompleted:  {StatusLocked, StatusValidating, StatusMinting, StatusCompleted},
		StatusFailed:     {StatusFailed},
		StatusRefunded:   {StatusFailed, StatusRefunded},
	}

	current := StatusInitiated
	for _, next := range path[status] {
		patch := &Patch{Status: &next}
		if next == StatusLocked {
			patch.SourceTxHash = &srcTx
		}
		if next == StatusCompleted {
			destTx := common.Bytes32ToHexStr(common.RandBytes32())
			now := time.Now().UTC()
			patch.DestinationTxHash = &destTx
			patch.CompletedAt = &now
		}
		if err := s.UpdateCAS(t.ID, current, patch); err != nil {
			return nil, err
		}
		current = next
	}
	return s.GetByID(t.ID)
}
