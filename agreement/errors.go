package agreement

import "fmt"

// ErrKind partitions bridge errors the way callers need to branch on them.
type ErrKind int

const (
	ErrKindValidation ErrKind = iota
	ErrKindQuorumUnavailable
	ErrKindNotFound
	ErrKindAlreadyTerminal
	ErrKindExecution
	ErrKindTimeout
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation"
	case ErrKindQuorumUnavailable:
		return "quorum-unavailable"
	case ErrKindNotFound:
		return "not-found"
	case ErrKindAlreadyTerminal:
		return "already-terminal"
	case ErrKindExecution:
		return "execution"
	case ErrKindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// BridgeError is a tagged error. Validation errors surface synchronously to
// the caller; everything else is recorded on the transfer and surfaced via
// polling or events.
type BridgeError struct {
	Kind ErrKind
	Msg  string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewBridgeError(kind ErrKind, format string, args ...interface{}) *BridgeError {
	return &BridgeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err if it is a BridgeError.
func KindOf(err error) (ErrKind, bool) {
	be, ok := err.(*BridgeError)
	if !ok {
		return 0, false
	}
	return be.Kind, true
}
