package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/events"
)

type Config struct {
	// Loop's main interval
	PollInterval time.Duration

	// Timeout on any single chain-client call
	CallTimeout time.Duration

	// Signatures a transfer must carry before settlement
	RequiredSignatures int

	// Concurrent destination-chain submissions; unbounded concurrency
	// risks nonce collisions and fee-market thrashing
	MaxConcurrentTx int

	// Settlement attempts before a transfer is marked FAILED
	MaxRetries int

	// Asset id of the wrapped representation per chain; empty means the
	// chain's native asset
	AssetID map[agreement.Chain]string

	// Escrow/custodial account releases are paid from, per chain
	EscrowAddress map[agreement.Chain]string
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval:       5 * time.Second,
		CallTimeout:        30 * time.Second,
		RequiredSignatures: 3,
		MaxConcurrentTx:    4,
		MaxRetries:         3,
		AssetID:            map[agreement.Chain]string{},
		EscrowAddress:      map[agreement.Chain]string{},
	}
}

// Relayer executes the destination-chain effect for transfers that reached
// quorum: a mint of the wrapped asset or a release from escrow. It only
// ever advances transfers to COMPLETED; recovery of failures is the
// monitor's job, never the relayer's.
type Relayer struct {
	store   *bridgestore.Store
	clients map[agreement.Chain]agreement.ChainClient
	bus     *events.Bus
	cfg     *Config

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	metrics Metrics
}

// Metrics are observational running totals; they gate nothing.
type Metrics struct {
	mu sync.Mutex

	MintsSucceeded    int64
	MintsFailed       int64
	ReleasesSucceeded int64
	ReleasesFailed    int64

	processed     int64
	avgProcessing time.Duration
}

// AvgProcessingTime is the cumulative average settlement duration.
func (m *Metrics) AvgProcessingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgProcessing
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.avgProcessing += (d - m.avgProcessing) / time.Duration(m.processed)
}

func New(store *bridgestore.Store, clients map[agreement.Chain]agreement.ChainClient, bus *events.Bus, cfg *Config) *Relayer {
	return &Relayer{
		store:    store,
		clients:  clients,
		bus:      bus,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// MetricsSnapshot returns a copy of the counters.
func (r *Relayer) MetricsSnapshot() Metrics {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()
	return Metrics{
		MintsSucceeded:    r.metrics.MintsSucceeded,
		MintsFailed:       r.metrics.MintsFailed,
		ReleasesSucceeded: r.metrics.ReleasesSucceeded,
		ReleasesFailed:    r.metrics.ReleasesFailed,
		processed:         r.metrics.processed,
		avgProcessing:     r.metrics.avgProcessing,
	}
}

// The big loop.
func (r *Relayer) Loop(ctx context.Context) error {
	logger.Debug("starting relayer loop")
	defer logger.Debug("stopping relayer loop")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ready, err := r.PollReadyTransfers()
			if err != nil {
				logger.Errorf("failed to poll ready transfers: err=%v", err)
				continue
			}
			for _, t := range ready {
				go func(t *bridgestore.Transfer) {
					defer r.release(t.ID)
					r.Execute(ctx, t)
				}(t)
			}
		}
	}
}

// PollReadyTransfers returns transfers in MINTING/RELEASING with enough
// signatures, excluding in-flight ones, up to the concurrency bound. The
// returned transfers are claimed into the in-flight set.
func (r *Relayer) PollReadyTransfers() ([]*bridgestore.Transfer, error) {
	transfers, err := r.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{bridgestore.StatusMinting, bridgestore.StatusReleasing},
	}, true, 0)
	if err != nil {
		return nil, err
	}

	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()

	budget := r.cfg.MaxConcurrentTx - len(r.inflight)
	var ready []*bridgestore.Transfer
	for _, t := range transfers {
		if budget <= 0 {
			break
		}
		if _, busy := r.inflight[t.ID]; busy {
			continue
		}
		if len(t.Signatures) < r.cfg.RequiredSignatures {
			continue
		}
		r.inflight[t.ID] = struct{}{}
		ready = append(ready, t)
		budget--
	}
	return ready, nil
}

func (r *Relayer) release(id string) {
	r.inflightMu.Lock()
	delete(r.inflight, id)
	r.inflightMu.Unlock()
}

// Execute runs the destination effect appropriate for the transfer's
// current status.
func (r *Relayer) Execute(ctx context.Context, t *bridgestore.Transfer) {
	switch t.Status {
	case bridgestore.StatusMinting:
		r.ExecuteMint(ctx, t)
	case bridgestore.StatusReleasing:
		r.ExecuteRelease(ctx, t)
	default:
		logger.WithField("transfer", t.ID).Warnf("relayer asked to execute status %s, skipping", t.Status)
	}
}

// ExecuteMint submits a mint of amount-fee on the destination chain. On
// failure the status is left untouched for the recovery sweep; the relayer
// never transitions a transfer backward.
func (r *Relayer) ExecuteMint(ctx context.Context, t *bridgestore.Transfer) {
	ok := r.settle(ctx, t, bridgestore.StatusMinting)

	r.metrics.mu.Lock()
	if ok {
		r.metrics.MintsSucceeded++
	} else {
		r.metrics.MintsFailed++
	}
	r.metrics.mu.Unlock()
}

// ExecuteRelease submits a transfer of amount-fee from the escrow account
// to the destination address.
func (r *Relayer) ExecuteRelease(ctx context.Context, t *bridgestore.Transfer) {
	ok := r.settle(ctx, t, bridgestore.StatusReleasing)

	r.metrics.mu.Lock()
	if ok {
		r.metrics.ReleasesSucceeded++
	} else {
		r.metrics.ReleasesFailed++
	}
	r.metrics.mu.Unlock()
}

// settlementInstruction is the chain-agnostic payload handed to the chain
// client. Keyed by the transfer id so chains with deterministic transaction
// identifiers can deduplicate on their side too.
type settlementInstruction struct {
	Kind       string `json:"kind"` // "mint" or "release"
	TransferID string `json:"transferId"`
	AssetID    string `json:"assetId,omitempty"`
	From       string `json:"from,omitempty"` // escrow, for releases
	To         string `json:"to"`
	Amount     string `json:"amount"`
}

func (r *Relayer) settle(ctx context.Context, t *bridgestore.Transfer, expected bridgestore.Status) bool {
	started := time.Now()
	newLogger := logger.WithFields(logger.Fields{
		"transfer": t.ID,
		"status":   expected,
	})

	// idempotence: a retried transfer whose destination tx already exists
	// must not submit a second time; just finalize
	if t.DestinationTxHash != "" {
		newLogger.Info("destination tx already recorded, finalizing without submission")
		return r.complete(t, expected, t.DestinationTxHash, started)
	}

	destChain := t.Direction.DestChain()
	client, ok := r.clients[destChain]
	if !ok {
		r.recordFailure(t, expected, "no client for chain "+string(destChain))
		return false
	}

	kind := "mint"
	if expected == bridgestore.StatusReleasing {
		kind = "release"
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	assetID := r.cfg.AssetID[destChain]
	to := t.DestinationAddress
	if kind == "mint" {
		// chains with explicit holding accounts need one before minting
		derived, err := client.DeriveDepositAccount(callCtx, t.DestinationAddress, assetID)
		if err != nil {
			r.recordFailure(t, expected, "failed to derive deposit account: "+err.Error())
			return false
		}
		to = derived
	}

	payload, err := json.Marshal(&settlementInstruction{
		Kind:       kind,
		TransferID: t.ID,
		AssetID:    assetID,
		From:       r.cfg.EscrowAddress[destChain],
		To:         to,
		Amount:     t.Amount.Sub(t.Fee).String(),
	})
	if err != nil {
		r.recordFailure(t, expected, "failed to encode settlement: "+err.Error())
		return false
	}

	res, err := client.SubmitTransaction(callCtx, payload)
	if err != nil {
		r.recordFailure(t, expected, "submission error: "+err.Error())
		return false
	}
	if !res.Success {
		r.recordFailure(t, expected, "submission rejected: "+res.Err)
		return false
	}

	newLogger.WithField("destTx", res.TxHash).Info("destination effect executed")
	return r.complete(t, expected, res.TxHash, started)
}

func (r *Relayer) complete(t *bridgestore.Transfer, expected bridgestore.Status, destTxHash string, started time.Time) bool {
	completed := bridgestore.StatusCompleted
	now := time.Now().UTC()
	empty := ""
	err := r.store.UpdateCAS(t.ID, expected, &bridgestore.Patch{
		Status:            &completed,
		DestinationTxHash: &destTxHash,
		CompletedAt:       &now,
		ErrorMessage:      &empty,
	})
	if errors.Is(err, bridgestore.ErrStaleStatus) {
		// another relayer instance won the claim
		return false
	}
	if err != nil {
		logger.WithField("transfer", t.ID).Errorf("failed to finalize transfer: err=%v", err)
		return false
	}

	r.metrics.observe(time.Since(started))
	r.bus.Publish(events.Event{
		Kind:       events.KindCompleted,
		TransferID: t.ID,
		Direction:  string(t.Direction),
		Amount:     t.Amount.String(),
		Status:     string(completed),
	})
	return true
}

// recordFailure notes the error and bumps retryCount. While attempts
// remain the status is left alone for the next poll; once the attempt
// budget is spent the transfer is marked FAILED.
func (r *Relayer) recordFailure(t *bridgestore.Transfer, expected bridgestore.Status, msg string) {
	logger.WithFields(logger.Fields{
		"transfer": t.ID,
		"status":   expected,
		"attempt":  t.RetryCount + 1,
	}).Errorf("settlement failed: %s", msg)

	patch := &bridgestore.Patch{
		ErrorMessage:   &msg,
		IncrementRetry: true,
	}
	exhausted := t.RetryCount+1 >= r.cfg.MaxRetries
	if exhausted {
		failed := bridgestore.StatusFailed
		patch.Status = &failed
	}

	err := r.store.UpdateCAS(t.ID, expected, patch)
	if err != nil {
		if !errors.Is(err, bridgestore.ErrStaleStatus) {
			logger.WithField("transfer", t.ID).Errorf("failed to record settlement failure: err=%v", err)
		}
		return
	}

	if exhausted {
		logger.WithField("transfer", t.ID).Warn("settlement attempts exhausted, transfer marked FAILED")
		r.bus.Publish(events.Event{
			Kind:       events.KindFailed,
			TransferID: t.ID,
			Direction:  string(t.Direction),
			Status:     string(bridgestore.StatusFailed),
			Reason:     msg,
		})
	}
}
