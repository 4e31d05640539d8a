package orchestrator

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/common"
	"github.com/verity-protocol/bridge-go/events"
	"github.com/verity-protocol/bridge-go/validator"
)

// The big loop: promote transfers along the state machine and recover the
// stuck ones. Every step tolerates per-record failures; one bad transfer
// never stops the sweep.
func (o *Orchestrator) Loop(ctx context.Context) error {
	logger.Debug("starting orchestrator sweep loop")
	defer logger.Debug("stopping orchestrator sweep loop")

	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// Sweep runs one full pass. Exported so tests and the monitor can drive it
// without the ticker.
func (o *Orchestrator) Sweep() {
	if err := o.promoteLocked(); err != nil {
		logger.Errorf("failed to promote locked transfers: err=%v", err)
	}
	if err := o.promoteQuorum(); err != nil {
		logger.Errorf("failed to promote quorum transfers: err=%v", err)
	}
	if err := o.recoverStuck(); err != nil {
		logger.Errorf("failed to recover stuck transfers: err=%v", err)
	}
	o.publishStats()
}

// LOCKED -> VALIDATING: the source event is recorded, start collecting
// signatures.
func (o *Orchestrator) promoteLocked() error {
	transfers, err := o.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{bridgestore.StatusLocked},
	}, true, o.cfg.BatchSize)
	if err != nil {
		return err
	}

	validating := bridgestore.StatusValidating
	for _, t := range transfers {
		err := o.store.UpdateCAS(t.ID, bridgestore.StatusLocked, &bridgestore.Patch{Status: &validating})
		if err != nil && !errors.Is(err, bridgestore.ErrStaleStatus) {
			logger.WithField("transfer", t.ID).Errorf("failed to start validation: err=%v", err)
		}
	}
	return nil
}

// VALIDATING -> MINTING/RELEASING once a transfer has collected enough
// authentic signatures. The quorum check is evaluated against a fresh read
// and every counted signature is verified against the registry's key.
func (o *Orchestrator) promoteQuorum() error {
	transfers, err := o.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{bridgestore.StatusValidating},
	}, true, o.cfg.BatchSize)
	if err != nil {
		return err
	}

	if len(transfers) > 0 && !o.registry.HasQuorum() {
		logger.Warn("validator quorum lost while transfers await validation")
		o.bus.Publish(events.Event{Kind: events.KindQuorumLost})
	}

	required := o.registry.Required()
	for _, t := range transfers {
		valid := o.countValidSignatures(t)
		if valid < required {
			continue
		}

		next := bridgestore.StatusMinting
		if t.Direction.DestChain() == agreement.ChainXRPL {
			next = bridgestore.StatusReleasing
		}
		err := o.store.UpdateCAS(t.ID, bridgestore.StatusValidating, &bridgestore.Patch{Status: &next})
		if errors.Is(err, bridgestore.ErrStaleStatus) {
			continue
		}
		if err != nil {
			logger.WithField("transfer", t.ID).Errorf("failed to mark quorum reached: err=%v", err)
			continue
		}

		logger.WithFields(logger.Fields{
			"transfer":   t.ID,
			"signatures": valid,
			"next":       next,
		}).Info("quorum reached")
		o.bus.Publish(events.Event{
			Kind:       events.KindQuorumReached,
			TransferID: t.ID,
			Direction:  string(t.Direction),
			Amount:     t.Amount.String(),
			Status:     string(next),
		})
	}
	return nil
}

func (o *Orchestrator) countValidSignatures(t *bridgestore.Transfer) int {
	hash := common.SigningHash(t.SigningHashFields())
	valid := 0
	for _, sig := range t.Signatures {
		pub, err := o.registry.PublicKey(sig.ValidatorID)
		if err != nil {
			logger.WithFields(logger.Fields{
				"transfer":  t.ID,
				"validator": sig.ValidatorID,
			}).Debugf("signature from unknown validator skipped: err=%v", err)
			continue
		}
		if !validator.VerifySignature(pub, sig.Signature, hash) {
			logger.WithFields(logger.Fields{
				"transfer":  t.ID,
				"validator": sig.ValidatorID,
			}).Warn("signature failed verification, not counted")
			continue
		}
		valid++
	}
	return valid
}

// recoverStuck resets transfers that exceeded the transfer time budget and
// fails the ones that exhausted their retries. Uses the same reset rule as
// the monitor's manual retry.
func (o *Orchestrator) recoverStuck() error {
	transfers, err := o.store.Find(&bridgestore.Filter{
		Statuses: []bridgestore.Status{
			bridgestore.StatusInitiated, bridgestore.StatusLocked, bridgestore.StatusValidating,
			bridgestore.StatusMinting, bridgestore.StatusReleasing,
		},
		CreatedBefore: time.Now().UTC().Add(-o.cfg.TransferTimeout),
	}, true, o.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		newLogger := logger.WithFields(logger.Fields{
			"transfer": t.ID,
			"status":   t.Status,
			"retries":  t.RetryCount,
		})

		if t.RetryCount >= o.cfg.MaxRetries {
			failed := bridgestore.StatusFailed
			msg := "transfer timed out after " + o.cfg.TransferTimeout.String() +
				" and exhausted its retries"
			err := o.store.UpdateCAS(t.ID, t.Status, &bridgestore.Patch{
				Status:       &failed,
				ErrorMessage: &msg,
			})
			if errors.Is(err, bridgestore.ErrStaleStatus) {
				continue
			}
			if err != nil {
				newLogger.Errorf("failed to mark transfer FAILED: err=%v", err)
				continue
			}
			newLogger.Warn("stuck transfer marked FAILED")
			o.bus.Publish(events.Event{
				Kind:       events.KindFailed,
				TransferID: t.ID,
				Direction:  string(t.Direction),
				Status:     string(bridgestore.StatusFailed),
				Reason:     msg,
			})
			continue
		}

		if _, err := bridgestore.RetryTransfer(o.store, t.ID); err != nil {
			newLogger.Errorf("failed to reset stuck transfer: err=%v", err)
			continue
		}
		newLogger.Info("stuck transfer reset for retry")
	}
	return nil
}

func (o *Orchestrator) publishStats() {
	stats, err := o.store.Aggregate(o.cfg.StatsWindow)
	if err != nil {
		logger.Errorf("failed to aggregate stats: err=%v", err)
		return
	}
	o.bus.Publish(events.Event{
		Kind:   events.KindStatsUpdate,
		Amount: stats.TotalVolume.String(),
	})
}
