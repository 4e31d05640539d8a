package orchestrator

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/common"
	"github.com/verity-protocol/bridge-go/events"
	"github.com/verity-protocol/bridge-go/validator"
)

// Orchestrator drives the transfer state machine: it accepts requests,
// promotes transfers whose source event has been observed, marks transfers
// ready for settlement once quorum is reached, and recovers stuck ones.
type Orchestrator struct {
	store    *bridgestore.Store
	registry *validator.Registry
	bus      *events.Bus
	cfg      *Config
}

func New(store *bridgestore.Store, registry *validator.Registry, bus *events.Bus, cfg *Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
	}
}

// TransferRequest is a client's ask to move value across the bridge.
type TransferRequest struct {
	Direction          bridgestore.Direction
	SourceAddress      string
	DestinationAddress string
	Amount             string
	Requester          string
}

// TransferReceipt is returned on a successful initiation.
type TransferReceipt struct {
	TransferID          string
	Fee                 decimal.Decimal
	EstimatedCompletion time.Duration
}

// InitiateTransfer validates the request, computes the fee, persists a new
// transfer in INITIATED and emits the initiated event. Nothing is persisted
// on any validation failure, and nothing is created while the validator set
// cannot reach quorum.
func (o *Orchestrator) InitiateTransfer(req *TransferRequest) (*TransferReceipt, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation, "amount %q is not a decimal number", req.Amount)
	}
	if amount.LessThan(o.cfg.MinAmount) || amount.GreaterThan(o.cfg.MaxAmount) {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"amount %s outside [%s, %s]", amount, o.cfg.MinAmount, o.cfg.MaxAmount)
	}

	if !req.Direction.Valid() {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation, "unknown direction %q", req.Direction)
	}
	srcChain, dstChain := req.Direction.SourceChain(), req.Direction.DestChain()

	if !plausibleAddress(srcChain, req.SourceAddress) {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"source address %q is not a plausible %s address", req.SourceAddress, srcChain)
	}
	if !plausibleAddress(dstChain, req.DestinationAddress) {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"destination address %q is not a plausible %s address", req.DestinationAddress, dstChain)
	}
	if srcChain == dstChain {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation, "source and destination chains must differ")
	}
	if !o.cfg.SupportedChains[srcChain] || !o.cfg.SupportedChains[dstChain] {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"unsupported chain pair %s -> %s", srcChain, dstChain)
	}

	// no point creating a transfer nobody can validate
	if !o.registry.HasQuorum() {
		return nil, agreement.NewBridgeError(agreement.ErrKindQuorumUnavailable,
			"validator quorum unavailable (%d required)", o.registry.Required())
	}

	fee := o.computeFee(dstChain, amount)
	if fee.GreaterThanOrEqual(amount) {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"fee %s would consume the whole amount %s", fee, amount)
	}

	now := time.Now().UTC()
	nonce := common.RandBytes32()
	t := &bridgestore.Transfer{
		ID:                 uuid.NewString(),
		Direction:          req.Direction,
		SourceAddress:      req.SourceAddress,
		DestinationAddress: req.DestinationAddress,
		Amount:             amount,
		Fee:                fee,
		Status:             bridgestore.StatusInitiated,
		CreatedAt:          now,
		VerificationHash: common.VerificationHash(
			string(req.Direction), req.SourceAddress, req.DestinationAddress,
			amount.String(), nonce, now.Unix(),
		).Hex(),
	}
	if err := o.store.Insert(t); err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"transfer":  t.ID,
		"direction": t.Direction,
		"amount":    t.Amount,
		"fee":       t.Fee,
		"requester": req.Requester,
	}).Info("transfer initiated")

	o.bus.Publish(events.Event{
		Kind:       events.KindInitiated,
		TransferID: t.ID,
		Direction:  string(t.Direction),
		Amount:     t.Amount.String(),
		Status:     string(t.Status),
	})

	return &TransferReceipt{
		TransferID:          t.ID,
		Fee:                 fee,
		EstimatedCompletion: o.cfg.EstimatedCompletion,
	}, nil
}

// fee = max(baseFee, baseFee + amount * pct), keyed by destination chain
func (o *Orchestrator) computeFee(dest agreement.Chain, amount decimal.Decimal) decimal.Decimal {
	base := o.cfg.BaseFee[dest]
	pct := o.cfg.PctFee[dest]
	return decimal.Max(base, base.Add(amount.Mul(pct)))
}

func plausibleAddress(chain agreement.Chain, addr string) bool {
	if addr == "" {
		return false
	}
	switch chain {
	case agreement.ChainXRPL:
		return common.IsPlausibleXRPLAddress(addr)
	case agreement.ChainSolana:
		return common.IsPlausibleSolanaAddress(addr)
	default:
		return false
	}
}

// ObserveSourceLock records that the source-chain event (lock or burn) for
// a transfer has been seen, advancing INITIATED -> LOCKED.
func (o *Orchestrator) ObserveSourceLock(id, sourceTxHash string) error {
	locked := bridgestore.StatusLocked
	err := o.store.UpdateCAS(id, bridgestore.StatusInitiated, &bridgestore.Patch{
		Status:       &locked,
		SourceTxHash: &sourceTxHash,
	})
	if errors.Is(err, bridgestore.ErrNotFound) {
		return agreement.NewBridgeError(agreement.ErrKindNotFound, "transfer %s not found", id)
	}
	return err
}

// GetStatus returns the transfer's last known state, or nil when unknown.
// Read-only.
func (o *Orchestrator) GetStatus(id string) (*bridgestore.Transfer, error) {
	return o.store.GetByID(id)
}

// HistoryFilter narrows GetHistory.
type HistoryFilter struct {
	Direction bridgestore.Direction
	Statuses  []bridgestore.Status
	Limit     int
}

// GetHistory returns transfers touching the given address, newest first.
// Read-only.
func (o *Orchestrator) GetHistory(address string, f *HistoryFilter) ([]*bridgestore.Transfer, error) {
	if f == nil {
		f = &HistoryFilter{}
	}
	return o.store.Find(&bridgestore.Filter{
		Address:   address,
		Direction: f.Direction,
		Statuses:  f.Statuses,
	}, false, f.Limit)
}

// GetStats returns the aggregate projection. Read-only.
func (o *Orchestrator) GetStats() (*bridgestore.Stats, error) {
	return o.store.Aggregate(o.cfg.StatsWindow)
}

// RetryTransaction is the manual re-entry point, sharing the monitor's
// reset rule.
func (o *Orchestrator) RetryTransaction(id string) error {
	_, err := bridgestore.RetryTransfer(o.store, id)
	return err
}
