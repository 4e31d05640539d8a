package bridgestore

import (
	"github.com/verity-protocol/bridge-go/agreement"
)

// RetryTransfer is the single re-entry point for a stuck transfer, shared
// by the orchestrator's recovery sweep and the monitor's retry operation:
// reset to the retriable predecessor, bump retryCount, clear the error.
// The two paths deliberately share this function so their behavior can
// never diverge.
func RetryTransfer(s *Store, id string) (*Transfer, error) {
	t, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, agreement.NewBridgeError(agreement.ErrKindNotFound, "transfer %s not found", id)
	}
	if t.Status.Terminal() {
		return nil, agreement.NewBridgeError(agreement.ErrKindAlreadyTerminal, "transfer %s already %s", id, t.Status)
	}

	reset, ok := RetryReset(t.Status)
	if !ok {
		return nil, agreement.NewBridgeError(agreement.ErrKindValidation,
			"transfer %s is %s and cannot be retried; initiate a refund", id, t.Status)
	}

	empty := ""
	if err := s.UpdateCAS(t.ID, t.Status, &Patch{
		Status:         &reset,
		ErrorMessage:   &empty,
		IncrementRetry: true,
	}); err != nil {
		return nil, err
	}
	return s.GetByID(t.ID)
}
