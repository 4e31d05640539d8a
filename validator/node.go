package validator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/common"
)

var (
	// ErrConflictingPayload guards the critical safety invariant: a
	// validator must never sign two different payloads for one transfer id.
	ErrConflictingPayload = errors.New("refusing to sign a second, different payload for the same transfer")
)

type NodeConfig struct {
	// Loop's main interval
	Interval time.Duration

	// Timeout on any single chain-client call
	CallTimeout time.Duration

	// Max transfers examined per cycle
	BatchSize int

	// Bridge custodial/escrow address per chain (lock destination)
	CustodialAddress map[agreement.Chain]string

	// Expected burn target per chain (mint authority of the wrapped asset)
	BurnTarget map[agreement.Chain]string
}

func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Interval:         5 * time.Second,
		CallTimeout:      10 * time.Second,
		BatchSize:        25,
		CustodialAddress: map[agreement.Chain]string{},
		BurnTarget:       map[agreement.Chain]string{},
	}
}

// Node is one independent validator. It verifies claimed source-chain
// events against its own chain clients and, when a claim holds, appends a
// signature to the shared store. It knows nothing about other validators'
// votes.
type Node struct {
	id       string
	key      *ecdsa.PrivateKey
	store    *bridgestore.Store
	registry *Registry
	clients  map[agreement.Chain]agreement.ChainClient
	cfg      *NodeConfig

	// transfer id -> [32]byte signing hash already endorsed
	signedHashes sync.Map
}

func NewNode(
	id string,
	key *ecdsa.PrivateKey,
	store *bridgestore.Store,
	registry *Registry,
	clients map[agreement.Chain]agreement.ChainClient,
	cfg *NodeConfig,
) *Node {
	return &Node{
		id:       id,
		key:      key,
		store:    store,
		registry: registry,
		clients:  clients,
		cfg:      cfg,
	}
}

func (n *Node) ID() string {
	return n.id
}

// PublicKey returns the uncompressed secp256k1 public key.
func (n *Node) PublicKey() []byte {
	return crypto.FromECDSAPub(&n.key.PublicKey)
}

// Start registers the node, runs the verification loop, and marks the
// record INACTIVE on the way out.
func (n *Node) Start(ctx context.Context) error {
	if err := n.registry.Register(n.id, n.PublicKey()); err != nil {
		return err
	}
	defer func() {
		if err := n.registry.Remove(n.id); err != nil {
			logger.WithField("validator", n.id).Errorf("failed to deactivate record: err=%v", err)
		}
	}()

	return n.Loop(ctx)
}

// The verification loop.
func (n *Node) Loop(ctx context.Context) error {
	logger.WithField("validator", n.id).Debug("starting validator loop")
	defer logger.WithField("validator", n.id).Debug("stopping validator loop")

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.registry.Heartbeat(n.id); err != nil {
				logger.WithField("validator", n.id).Errorf("heartbeat failed: err=%v", err)
			}
			if err := n.sweep(ctx); err != nil {
				logger.WithField("validator", n.id).Errorf("validation sweep failed: err=%v", err)
			}
		}
	}
}

// sweep examines transfers collecting signatures and signs the ones whose
// source event checks out. One failing transfer never stops the sweep.
func (n *Node) sweep(ctx context.Context) error {
	transfers, err := n.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{bridgestore.StatusValidating},
	}, true, n.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if t.SignedBy(n.id) {
			continue
		}

		newLogger := logger.WithFields(logger.Fields{
			"validator": n.id,
			"transfer":  t.ID,
		})

		res := n.VerifySourceEvent(ctx, t)
		switch res.Verdict {
		case agreement.VerdictUnverified:
			// could not be checked this cycle; neither endorse nor condemn
			newLogger.Debugf("source event unverified: %s", res.Reason)
			continue
		case agreement.VerdictInvalid:
			// recorded, but by itself never fails the transfer: quorum may
			// still be reached from validators that saw a valid event
			newLogger.Warnf("source event invalid: %s", res.Reason)
			msg := "verification failed (" + n.id + "): " + res.Reason
			if err := n.store.UpdateCAS(t.ID, t.Status, &bridgestore.Patch{ErrorMessage: &msg}); err != nil &&
				!errors.Is(err, bridgestore.ErrStaleStatus) {
				newLogger.Errorf("failed to record verification failure: err=%v", err)
			}
			continue
		}

		sig, err := n.SignTransfer(t)
		if err != nil {
			newLogger.Errorf("failed to sign transfer: err=%v", err)
			continue
		}
		count, err := n.store.AppendSignature(t.ID, sig)
		if err != nil {
			newLogger.Errorf("failed to append signature: err=%v", err)
			continue
		}
		newLogger.WithField("signatures", count).Info("transfer signed")
	}
	return nil
}

// VerifySourceEvent checks the claimed source-chain event for a transfer:
// the source transaction must exist, be finalized, be of the expected kind
// (custody lock or burn), pay the expected bridge account, and carry exactly
// the transfer's amount. A chain that cannot be asked yields Unverified,
// never Valid and never a crash of the sweep.
func (n *Node) VerifySourceEvent(ctx context.Context, t *bridgestore.Transfer) *agreement.VerifyResult {
	sourceChain := t.Direction.SourceChain()

	client, ok := n.clients[sourceChain]
	if !ok {
		return &agreement.VerifyResult{Verdict: agreement.VerdictUnverified, Reason: "no client for chain " + string(sourceChain)}
	}
	if t.SourceTxHash == "" {
		return &agreement.VerifyResult{Verdict: agreement.VerdictUnverified, Reason: "source transaction not yet observed"}
	}

	callCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
	defer cancel()

	tx, err := client.GetTransaction(callCtx, t.SourceTxHash)
	if err != nil {
		return &agreement.VerifyResult{Verdict: agreement.VerdictUnverified, Reason: "chain unavailable: " + err.Error()}
	}
	if !tx.Found {
		return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "source transaction not found"}
	}
	if !tx.Finalized {
		return &agreement.VerifyResult{Verdict: agreement.VerdictUnverified, Reason: "source transaction not finalized"}
	}

	switch t.Direction {
	case bridgestore.DirectionXRPLToSolana:
		// source event is a custody lock on XRPL
		if tx.Type != agreement.TxTypePayment {
			return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "source transaction is not a payment"}
		}
		if custodial := n.cfg.CustodialAddress[sourceChain]; tx.To != custodial {
			return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "payment does not go to the bridge custodial account"}
		}
	case bridgestore.DirectionSolanaToXRPL:
		// source event is a burn of the wrapped asset on Solana
		if tx.Type != agreement.TxTypeBurn {
			return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "source transaction is not a burn"}
		}
		if target := n.cfg.BurnTarget[sourceChain]; tx.To != target {
			return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "burn target mismatch"}
		}
	default:
		return &agreement.VerifyResult{Verdict: agreement.VerdictInvalid, Reason: "unknown direction"}
	}

	// exact match, no tolerance
	if !tx.Amount.Equal(t.Amount) {
		return &agreement.VerifyResult{
			Verdict: agreement.VerdictInvalid,
			Reason:  "amount mismatch: chain=" + tx.Amount.String() + " transfer=" + t.Amount.String(),
		}
	}

	return &agreement.VerifyResult{Verdict: agreement.VerdictValid}
}

// SignTransfer signs the deterministic message derived from the transfer's
// stored fields. If this node has already endorsed a different payload for
// the same id, it refuses.
func (n *Node) SignTransfer(t *bridgestore.Transfer) (*agreement.ValidatorSignature, error) {
	hash := common.SigningHash(t.SigningHashFields())

	if prior, ok := n.signedHashes.Load(t.ID); ok {
		if prior.([32]byte) != hash {
			return nil, ErrConflictingPayload
		}
	}

	sigBytes, err := crypto.Sign(hash[:], n.key)
	if err != nil {
		return nil, err
	}
	n.signedHashes.Store(t.ID, hash)

	return &agreement.ValidatorSignature{
		ValidatorID: n.id,
		Signature:   sigBytes,
		SignedAt:    time.Now().UTC(),
	}, nil
}

// VerifySignature is the pure check used before a signature is counted
// toward quorum.
func VerifySignature(publicKey []byte, signature []byte, hash [32]byte) bool {
	if len(signature) < 64 {
		return false
	}
	return crypto.VerifySignature(publicKey, hash[:], signature[:64])
}
