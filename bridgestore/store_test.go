package bridgestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/common"
)

func TestInsertAndGet(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	tr := RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	assert.NoError(t, store.Insert(tr))

	got, err := store.GetByID(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, StatusInitiated, got.Status)
	assert.True(t, tr.Amount.Equal(got.Amount))
	assert.True(t, tr.Fee.Equal(got.Fee))
	assert.Equal(t, tr.VerificationHash, got.VerificationHash)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Signatures)

	// unknown id yields (nil, nil)
	got, err = store.GetByID("no-such-id")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertRejectsBadInvariants(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	tr := RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	tr.Amount = decimal.Zero
	assert.ErrorIs(t, store.Insert(tr), ErrInvalidTransfer)

	tr = RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	tr.Fee = tr.Amount // fee must be < amount
	assert.ErrorIs(t, store.Insert(tr), ErrInvalidTransfer)

	tr = RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	tr.Fee = decimal.NewFromInt(-1)
	assert.ErrorIs(t, store.Insert(tr), ErrInvalidTransfer)

	tr = RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	tr.Direction = "XRPL_TO_MARS"
	assert.ErrorIs(t, store.Insert(tr), ErrInvalidTransfer)

	tr = RandTransfer(DirectionXRPLToSolana, StatusLocked)
	assert.ErrorIs(t, store.Insert(tr), ErrInvalidTransfer)
}

func TestUpdateCAS(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	tr := RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	require.NoError(t, store.Insert(tr))

	locked := StatusLocked
	srcTx := common.Bytes32ToHexStr(common.RandBytes32())
	assert.NoError(t, store.UpdateCAS(tr.ID, StatusInitiated, &Patch{
		Status:       &locked,
		SourceTxHash: &srcTx,
	}))

	got, err := store.GetByID(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusLocked, got.Status)
	assert.Equal(t, srcTx, got.SourceTxHash)

	// a second CAS with the stale expected status must miss
	err = store.UpdateCAS(tr.ID, StatusInitiated, &Patch{Status: &locked})
	assert.ErrorIs(t, err, ErrStaleStatus)

	// unknown id
	err = store.UpdateCAS("no-such-id", StatusInitiated, &Patch{Status: &locked})
	assert.ErrorIs(t, err, ErrNotFound)

	// skipping a state is illegal
	completed := StatusCompleted
	err = store.UpdateCAS(tr.ID, StatusLocked, &Patch{Status: &completed})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// empty patch
	assert.ErrorIs(t, store.UpdateCAS(tr.ID, StatusLocked, &Patch{}), ErrEmptyPatch)
}

func TestUpdateCASRetryFields(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	tr, err := store.InsertInStatus(DirectionXRPLToSolana, StatusValidating)
	require.NoError(t, err)

	msg := "chain unavailable"
	assert.NoError(t, store.UpdateCAS(tr.ID, StatusValidating, &Patch{
		ErrorMessage:   &msg,
		IncrementRetry: true,
	}))
	assert.NoError(t, store.UpdateCAS(tr.ID, StatusValidating, &Patch{IncrementRetry: true}))

	got, err := store.GetByID(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, msg, got.ErrorMessage)

	// reset to the retriable predecessor clears the error
	locked := StatusLocked
	empty := ""
	assert.NoError(t, store.UpdateCAS(tr.ID, StatusValidating, &Patch{
		Status:         &locked,
		ErrorMessage:   &empty,
		IncrementRetry: true,
	}))
	got, err = store.GetByID(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusLocked, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
}

func TestAppendSignature(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	tr, err := store.InsertInStatus(DirectionXRPLToSolana, StatusValidating)
	require.NoError(t, err)

	sig1 := &agreement.ValidatorSignature{
		ValidatorID: "validator-1",
		Signature:   []byte{0x01, 0x02},
		SignedAt:    time.Now().UTC(),
	}
	count, err := store.AppendSignature(tr.ID, sig1)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	// duplicate validator is ignored
	count, err = store.AppendSignature(tr.ID, sig1)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	sig2 := &agreement.ValidatorSignature{
		ValidatorID: "validator-2",
		Signature:   []byte{0x03, 0x04},
		SignedAt:    time.Now().UTC().Add(time.Millisecond),
	}
	count, err = store.AppendSignature(tr.ID, sig2)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	sigs, err := store.Signatures(tr.ID)
	assert.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "validator-1", sigs[0].ValidatorID)
	assert.Equal(t, []byte{0x01, 0x02}, sigs[0].Signature)
	assert.Equal(t, "validator-2", sigs[1].ValidatorID)

	_, err = store.AppendSignature("no-such-id", sig1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFilters(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	older := RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Insert(older))

	newer := RandTransfer(DirectionSolanaToXRPL, StatusInitiated)
	require.NoError(t, store.Insert(newer))

	_, err = store.InsertInStatus(DirectionXRPLToSolana, StatusCompleted)
	require.NoError(t, err)

	// by status
	hits, err := store.Find(&Filter{Statuses: []Status{StatusInitiated}}, true, 0)
	assert.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, older.ID, hits[0].ID) // oldest first

	// non-terminal older than one hour
	hits, err = store.Find(&Filter{
		NonTerminal:   true,
		CreatedBefore: time.Now().UTC().Add(-time.Hour),
	}, true, 0)
	assert.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, older.ID, hits[0].ID)

	// by address, either side
	hits, err = store.Find(&Filter{Address: older.SourceAddress}, false, 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, hits)

	// by direction with limit
	hits, err = store.Find(&Filter{Direction: DirectionSolanaToXRPL}, true, 1)
	assert.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, newer.ID, hits[0].ID)
}

func TestAggregate(t *testing.T) {
	store, err := NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	_, err = store.InsertInStatus(DirectionXRPLToSolana, StatusCompleted)
	require.NoError(t, err)
	_, err = store.InsertInStatus(DirectionXRPLToSolana, StatusCompleted)
	require.NoError(t, err)
	_, err = store.InsertInStatus(DirectionXRPLToSolana, StatusValidating)
	require.NoError(t, err)
	_, err = store.InsertInStatus(DirectionSolanaToXRPL, StatusFailed)
	require.NoError(t, err)
	_, err = store.InsertInStatus(DirectionSolanaToXRPL, StatusRefunded)
	require.NoError(t, err)

	stats, err := store.Aggregate(50)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Refunded)
	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(2000)),
		"volume=%s", stats.TotalVolume)
}
