package validator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/chainclient"
	"github.com/verity-protocol/bridge-go/common"
)

const (
	custodialXRPL = "rBRIDGEcustodia1AccountXXXXXXXXXXX"
	burnTargetSol = "BurnAuth1111111111111111111111111111111111"
)

func newTestNode(t *testing.T, store *bridgestore.Store, xrpl, sol *chainclient.SimClient) *Node {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	reg := newTestRegistry(t, 1)
	cfg := DefaultNodeConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.CallTimeout = 100 * time.Millisecond
	cfg.CustodialAddress[agreement.ChainXRPL] = custodialXRPL
	cfg.BurnTarget[agreement.ChainSolana] = burnTargetSol

	clients := map[agreement.Chain]agreement.ChainClient{}
	if xrpl != nil {
		clients[agreement.ChainXRPL] = xrpl
	}
	if sol != nil {
		clients[agreement.ChainSolana] = sol
	}
	return NewNode("node-under-test", key, store, reg, clients, cfg)
}

func lockTxFor(t *bridgestore.Transfer) *agreement.ChainTx {
	return &agreement.ChainTx{
		Hash:      t.SourceTxHash,
		Found:     true,
		Finalized: true,
		Type:      agreement.TxTypePayment,
		Amount:    t.Amount,
		From:      t.SourceAddress,
		To:        custodialXRPL,
	}
}

func TestVerifySourceEventLock(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	xrpl := chainclient.NewSimClient()
	node := newTestNode(t, store, xrpl, nil)

	tr, err := store.InsertInStatus(bridgestore.DirectionXRPLToSolana, bridgestore.StatusValidating)
	require.NoError(t, err)

	// not found on chain
	res := node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictInvalid, res.Verdict)

	// valid lock
	xrpl.SetTransaction(lockTxFor(tr))
	res = node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictValid, res.Verdict, res.Reason)

	// not finalized -> unverified, not invalid
	tx := lockTxFor(tr)
	tx.Finalized = false
	xrpl.SetTransaction(tx)
	res = node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictUnverified, res.Verdict)

	// wrong destination
	tx = lockTxFor(tr)
	tx.To = "rSomebodyE1se00000000000000000000"
	xrpl.SetTransaction(tx)
	res = node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictInvalid, res.Verdict)

	// amount mismatch is exact-match-or-reject
	tx = lockTxFor(tr)
	tx.Amount = tr.Amount.Sub(decimal.NewFromInt(1))
	xrpl.SetTransaction(tx)
	res = node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictInvalid, res.Verdict)

	// wrong type
	tx = lockTxFor(tr)
	tx.Type = agreement.TxTypeOther
	xrpl.SetTransaction(tx)
	res = node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictInvalid, res.Verdict)
}

func TestVerifySourceEventBurn(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	sol := chainclient.NewSimClient()
	node := newTestNode(t, store, nil, sol)

	tr, err := store.InsertInStatus(bridgestore.DirectionSolanaToXRPL, bridgestore.StatusValidating)
	require.NoError(t, err)

	sol.SetTransaction(&agreement.ChainTx{
		Hash:      tr.SourceTxHash,
		Found:     true,
		Finalized: true,
		Type:      agreement.TxTypeBurn,
		Amount:    tr.Amount,
		From:      tr.SourceAddress,
		To:        burnTargetSol,
	})
	res := node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictValid, res.Verdict, res.Reason)
}

func TestVerifySourceEventChainUnavailable(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	xrpl := chainclient.NewSimClient()
	xrpl.Unreachable = true
	node := newTestNode(t, store, xrpl, nil)

	tr, err := store.InsertInStatus(bridgestore.DirectionXRPLToSolana, bridgestore.StatusValidating)
	require.NoError(t, err)

	res := node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictUnverified, res.Verdict)
	assert.Contains(t, res.Reason, "chain unavailable")

	// missing client entirely is also unverified
	node2 := newTestNode(t, store, nil, nil)
	res = node2.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictUnverified, res.Verdict)
}

func TestVerifySourceEventWithoutObservedTx(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	node := newTestNode(t, store, chainclient.NewSimClient(), nil)

	tr := bridgestore.RandTransfer(bridgestore.DirectionXRPLToSolana, bridgestore.StatusInitiated)
	res := node.VerifySourceEvent(context.Background(), tr)
	assert.Equal(t, agreement.VerdictUnverified, res.Verdict)
	assert.Contains(t, res.Reason, "not yet observed")
}

func TestSignTransferAndVerify(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	node := newTestNode(t, store, chainclient.NewSimClient(), nil)
	tr, err := store.InsertInStatus(bridgestore.DirectionXRPLToSolana, bridgestore.StatusValidating)
	require.NoError(t, err)

	sig, err := node.SignTransfer(tr)
	assert.NoError(t, err)
	assert.Equal(t, node.ID(), sig.ValidatorID)

	hash := common.SigningHash(tr.SigningHashFields())
	assert.True(t, VerifySignature(node.PublicKey(), sig.Signature, hash))

	// a different message must not verify
	other := common.SigningHash("other", "1", "a", "b", "c")
	assert.False(t, VerifySignature(node.PublicKey(), sig.Signature, other))

	// signing the identical payload again is fine
	_, err = node.SignTransfer(tr)
	assert.NoError(t, err)

	// signing a conflicting payload for the same id is refused
	conflicting := tr.Clone()
	conflicting.Amount = conflicting.Amount.Add(decimal.NewFromInt(5))
	_, err = node.SignTransfer(conflicting)
	assert.ErrorIs(t, err, ErrConflictingPayload)
}

func TestLoopSignsValidatingTransfers(t *testing.T) {
	store, err := bridgestore.NewSimStore()
	require.NoError(t, err)
	defer store.Close()

	xrpl := chainclient.NewSimClient()
	node := newTestNode(t, store, xrpl, nil)

	tr, err := store.InsertInStatus(bridgestore.DirectionXRPLToSolana, bridgestore.StatusValidating)
	require.NoError(t, err)
	xrpl.SetTransaction(lockTxFor(tr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		node.Start(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)

	count, err := store.SignatureCount(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count) // signed once, not once per tick

	sigs, err := store.Signatures(tr.ID)
	assert.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, node.ID(), sigs[0].ValidatorID)

	// the loop's shutdown path must run before the registry is closed
	cancel()
	<-done
}
