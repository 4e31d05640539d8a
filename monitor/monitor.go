package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/events"
	"github.com/verity-protocol/bridge-go/validator"
)

type Config struct {
	// Loop's main interval
	CheckInterval time.Duration

	// Timeout on any single chain-client call
	CallTimeout time.Duration

	// Age past which a non-terminal transfer counts as stuck
	StuckThreshold time.Duration

	// Stuck transfers examined per cycle
	BatchSize int

	// Stuck count at or above which health degrades
	AlertThreshold int

	// Whether FAILED transfers are refunded automatically
	AutoRefund bool
}

func DefaultConfig() *Config {
	return &Config{
		CheckInterval:  30 * time.Second,
		CallTimeout:    30 * time.Second,
		StuckThreshold: 10 * time.Minute,
		BatchSize:      25,
		AlertThreshold: 10,
		AutoRefund:     false,
	}
}

// HealthState summarizes the watchdog's view of the system.
type HealthState string

const (
	Healthy   HealthState = "HEALTHY"
	Degraded  HealthState = "DEGRADED"
	Unhealthy HealthState = "UNHEALTHY"
)

// Health carries the state plus the individual flags behind it, so
// operators see why, not just a boolean.
type Health struct {
	State      HealthState
	Flags      []string
	StuckCount int
	CheckedAt  time.Time
}

// Monitor is the independent watchdog: it finds transfers that exceeded
// their time budget, re-enters them through the shared reset rule, and
// initiates refunds for transfers that cannot complete.
type Monitor struct {
	store    *bridgestore.Store
	registry *validator.Registry
	clients  map[agreement.Chain]agreement.ChainClient
	bus      *events.Bus
	cfg      *Config
}

func New(
	store *bridgestore.Store,
	registry *validator.Registry,
	clients map[agreement.Chain]agreement.ChainClient,
	bus *events.Bus,
	cfg *Config,
) *Monitor {
	return &Monitor{
		store:    store,
		registry: registry,
		clients:  clients,
		bus:      bus,
		cfg:      cfg,
	}
}

// The watchdog loop.
func (m *Monitor) Loop(ctx context.Context) error {
	logger.Debug("starting monitor loop")
	defer logger.Debug("stopping monitor loop")

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			health, err := m.PerformHealthCheck()
			if err != nil {
				logger.Errorf("health check failed: err=%v", err)
			} else if health.State != Healthy {
				logger.WithFields(logger.Fields{
					"state": health.State,
					"flags": health.Flags,
				}).Warn("bridge health degraded")
			}

			if err := m.retryStuck(); err != nil {
				logger.Errorf("stuck recovery pass failed: err=%v", err)
			}

			if m.cfg.AutoRefund {
				if err := m.refundFailed(ctx); err != nil {
					logger.Errorf("auto refund pass failed: err=%v", err)
				}
			}
		}
	}
}

// GetStuckTransactions returns in-flight transfers older than threshold,
// oldest first, capped to the batch size. FAILED transfers are excluded:
// they wait on a refund, not on recovery.
func (m *Monitor) GetStuckTransactions(threshold time.Duration) ([]*bridgestore.Transfer, error) {
	return m.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{
			bridgestore.StatusInitiated, bridgestore.StatusLocked, bridgestore.StatusValidating,
			bridgestore.StatusMinting, bridgestore.StatusReleasing,
		},
		CreatedBefore: time.Now().UTC().Add(-threshold),
	}, true, m.cfg.BatchSize)
}

// PerformHealthCheck probes the store, the validator quorum and the stuck
// backlog.
func (m *Monitor) PerformHealthCheck() (*Health, error) {
	health := &Health{State: Healthy, CheckedAt: time.Now().UTC()}

	if err := m.store.Ping(); err != nil {
		health.Flags = append(health.Flags, "store unreachable: "+err.Error())
		health.State = Unhealthy
		return health, nil
	}

	if !m.registry.HasQuorum() {
		health.Flags = append(health.Flags, "validator quorum unavailable")
		health.State = Unhealthy
	}

	stuck, err := m.GetStuckTransactions(m.cfg.StuckThreshold)
	if err != nil {
		return nil, err
	}
	health.StuckCount = len(stuck)
	if len(stuck) >= m.cfg.AlertThreshold {
		health.Flags = append(health.Flags, "stuck transfers at or above alert threshold")
		if health.State == Healthy {
			health.State = Degraded
		}
	}

	return health, nil
}

// RetryTransaction re-enters one transfer through the same reset rule the
// orchestrator's sweep uses. Not-found and already-terminal are distinct,
// typed errors.
func (m *Monitor) RetryTransaction(id string) error {
	t, err := bridgestore.RetryTransfer(m.store, id)
	if err != nil {
		return err
	}
	logger.WithFields(logger.Fields{
		"transfer": t.ID,
		"status":   t.Status,
		"retries":  t.RetryCount,
	}).Info("transfer re-entered for retry")
	return nil
}

// retryStuck re-enters every stuck transfer through the shared reset rule,
// so recovery keeps working even when no orchestrator sweep is running. A
// transfer another loop already moved is simply skipped.
func (m *Monitor) retryStuck() error {
	stuck, err := m.GetStuckTransactions(m.cfg.StuckThreshold)
	if err != nil {
		return err
	}

	for _, t := range stuck {
		if err := m.RetryTransaction(t.ID); err != nil {
			if errors.Is(err, bridgestore.ErrStaleStatus) {
				continue
			}
			logger.WithField("transfer", t.ID).Errorf("failed to reset stuck transfer: err=%v", err)
		}
	}
	return nil
}

// InitiateRefund returns the locked source funds for a FAILED transfer and
// marks it REFUNDED. Calling it on a terminal success is rejected with a
// typed error; funds must never be stuck in escrow with no recovery path.
func (m *Monitor) InitiateRefund(ctx context.Context, id string) error {
	t, err := m.store.GetByID(id)
	if err != nil {
		return err
	}
	if t == nil {
		return agreement.NewBridgeError(agreement.ErrKindNotFound, "transfer %s not found", id)
	}
	if t.Status.Terminal() {
		return agreement.NewBridgeError(agreement.ErrKindAlreadyTerminal, "transfer %s already %s", id, t.Status)
	}
	if t.Status != bridgestore.StatusFailed {
		return agreement.NewBridgeError(agreement.ErrKindValidation,
			"refund only legal from %s, transfer is %s", bridgestore.StatusFailed, t.Status)
	}

	sourceChain := t.Direction.SourceChain()
	client, ok := m.clients[sourceChain]
	if !ok {
		return agreement.NewBridgeError(agreement.ErrKindExecution, "no client for chain %s", sourceChain)
	}

	refunded := bridgestore.StatusRefunded

	// idempotence: an interrupted refund whose tx was already broadcast
	// only needs finalizing
	if t.RefundTxHash != "" {
		return m.store.UpdateCAS(t.ID, bridgestore.StatusFailed, &bridgestore.Patch{Status: &refunded})
	}

	payload, err := json.Marshal(map[string]string{
		"kind":       "refund",
		"transferId": t.ID,
		"to":         t.SourceAddress,
		"amount":     t.Amount.String(),
	})
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	res, err := client.SubmitTransaction(callCtx, payload)
	if err != nil {
		return agreement.NewBridgeError(agreement.ErrKindExecution, "refund submission error: %v", err)
	}
	if !res.Success {
		return agreement.NewBridgeError(agreement.ErrKindExecution, "refund rejected: %s", res.Err)
	}

	err = m.store.UpdateCAS(t.ID, bridgestore.StatusFailed, &bridgestore.Patch{
		Status:       &refunded,
		RefundTxHash: &res.TxHash,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logger.Fields{
		"transfer": t.ID,
		"refundTx": res.TxHash,
	}).Info("refund executed")
	return nil
}

func (m *Monitor) refundFailed(ctx context.Context) error {
	failed, err := m.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{bridgestore.StatusFailed},
	}, true, m.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, t := range failed {
		if err := m.InitiateRefund(ctx, t.ID); err != nil {
			if errors.Is(err, bridgestore.ErrStaleStatus) {
				continue
			}
			logger.WithField("transfer", t.ID).Errorf("refund failed: err=%v", err)
		}
	}
	return nil
}
