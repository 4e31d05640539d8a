package bridgestore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusInitiated, StatusLocked, StatusValidating, StatusMinting,
	StatusReleasing, StatusCompleted, StatusFailed, StatusRefunded,
}

func TestTransitionTable(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusInitiated, StatusLocked}:     true,
		{StatusInitiated, StatusFailed}:     true,
		{StatusLocked, StatusValidating}:    true,
		{StatusLocked, StatusFailed}:        true,
		{StatusValidating, StatusMinting}:   true,
		{StatusValidating, StatusReleasing}: true,
		{StatusValidating, StatusFailed}:    true,
		{StatusMinting, StatusCompleted}:    true,
		{StatusMinting, StatusFailed}:       true,
		{StatusReleasing, StatusCompleted}:  true,
		{StatusReleasing, StatusFailed}:     true,
		{StatusFailed, StatusRefunded}:      true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, legal[[2]Status{from, to}], CanAdvance(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestRandomTransitionAttempts(t *testing.T) {
	// random attempts against a live store: every accepted transition must
	// be in the forward table or be the shared retry reset
	store, err := NewSimStore()
	assert.NoError(t, err)
	defer store.Close()

	tr := RandTransfer(DirectionXRPLToSolana, StatusInitiated)
	assert.NoError(t, store.Insert(tr))
	current := StatusInitiated

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		to := allStatuses[rng.Intn(len(allStatuses))]
		err := store.UpdateCAS(tr.ID, current, &Patch{Status: &to})
		if CanAdvance(current, to) || to == current || isRetryReset(current, to) {
			assert.NoError(t, err)
			current = to
		} else {
			assert.ErrorIs(t, err, ErrIllegalTransition)
		}
	}

	got, err := store.GetByID(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, current, got.Status)
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRefunded.Terminal())
	assert.False(t, StatusFailed.Terminal()) // FAILED can still be refunded
	assert.False(t, StatusInitiated.Terminal())
}

func TestRetryReset(t *testing.T) {
	for _, s := range []Status{StatusValidating, StatusMinting, StatusReleasing} {
		reset, ok := RetryReset(s)
		assert.True(t, ok)
		assert.Equal(t, StatusLocked, reset)
	}

	reset, ok := RetryReset(StatusLocked)
	assert.True(t, ok)
	assert.Equal(t, StatusInitiated, reset)

	reset, ok = RetryReset(StatusInitiated)
	assert.True(t, ok)
	assert.Equal(t, StatusInitiated, reset)

	for _, s := range []Status{StatusCompleted, StatusFailed, StatusRefunded} {
		_, ok := RetryReset(s)
		assert.False(t, ok, "no reset from %s", s)
	}
}

func TestDirectionChains(t *testing.T) {
	assert.Equal(t, "XRPL", string(DirectionXRPLToSolana.SourceChain()))
	assert.Equal(t, "SOLANA", string(DirectionXRPLToSolana.DestChain()))
	assert.Equal(t, "SOLANA", string(DirectionSolanaToXRPL.SourceChain()))
	assert.Equal(t, "XRPL", string(DirectionSolanaToXRPL.DestChain()))
	assert.False(t, Direction("XRPL_TO_XRPL").Valid())
}
